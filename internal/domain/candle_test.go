package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	for _, iv := range Intervals {
		got, err := ParseInterval(string(iv))
		if err != nil {
			t.Errorf("ParseInterval(%q) unexpected error: %v", iv, err)
		}
		if got != iv {
			t.Errorf("ParseInterval(%q) = %q", iv, got)
		}
	}

	_, err := ParseInterval("2m")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("ParseInterval(2m) error = %v, want ValidationError", err)
	}
}

func TestInterval_BucketStart(t *testing.T) {
	at := time.Date(2024, 3, 14, 13, 47, 31, 500, time.UTC)

	tests := []struct {
		iv   Interval
		want time.Time
	}{
		{Interval1m, time.Date(2024, 3, 14, 13, 47, 0, 0, time.UTC)},
		{Interval5m, time.Date(2024, 3, 14, 13, 45, 0, 0, time.UTC)},
		{Interval15m, time.Date(2024, 3, 14, 13, 45, 0, 0, time.UTC)},
		{Interval1h, time.Date(2024, 3, 14, 13, 0, 0, 0, time.UTC)},
		{Interval4h, time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)},
		{Interval1d, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		// Unix epoch was a Thursday, so weekly buckets start on Thursdays.
		{Interval1w, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		{Interval1M, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.iv), func(t *testing.T) {
			got := tt.iv.BucketStart(at)
			if !got.Equal(tt.want) {
				t.Errorf("BucketStart(%v) = %v, want %v", at, got, tt.want)
			}
		})
	}
}

func TestInterval_BucketEndMonth(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := Interval1M.BucketEnd(start); !got.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("BucketEnd(1M) = %v", got)
	}
	if got := Interval1h.BucketEnd(start); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("BucketEnd(1h) = %v", got)
	}
}

func TestCandle_ApplyInOrder(t *testing.T) {
	base := time.Date(2024, 3, 14, 13, 0, 0, 0, time.UTC)
	c := NewCandle("p1", Interval1h, d("10"), d("1"), base)
	c.Apply(d("12"), d("2"), base.Add(time.Minute))
	c.Apply(d("9"), d("3"), base.Add(2*time.Minute))

	if !c.Open.Equal(d("10")) || !c.High.Equal(d("12")) || !c.Low.Equal(d("9")) || !c.Close.Equal(d("9")) {
		t.Errorf("OHLC = %s/%s/%s/%s, want 10/12/9/9", c.Open, c.High, c.Low, c.Close)
	}
	if !c.Volume.Equal(d("6")) {
		t.Errorf("Volume = %s, want 6", c.Volume)
	}
	if c.TradeCount != 3 {
		t.Errorf("TradeCount = %d, want 3", c.TradeCount)
	}
	if !c.QuoteVolume.Equal(d("61")) {
		t.Errorf("QuoteVolume = %s, want 61", c.QuoteVolume)
	}
}

func TestCandle_ApplyLateTradeBecomesOpen(t *testing.T) {
	base := time.Date(2024, 3, 14, 13, 0, 0, 0, time.UTC)
	c := NewCandle("p1", Interval1h, d("10"), d("1"), base.Add(30*time.Minute))
	c.Apply(d("8"), d("1"), base.Add(5*time.Minute))

	if !c.Open.Equal(d("8")) {
		t.Errorf("Open = %s, want 8", c.Open)
	}
	if !c.Close.Equal(d("10")) {
		t.Errorf("Close = %s, want 10", c.Close)
	}
}
