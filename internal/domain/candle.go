package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Interval is a candle width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Intervals lists every aggregated width, narrowest first.
var Intervals = []Interval{
	Interval1m, Interval5m, Interval15m, Interval1h,
	Interval4h, Interval1d, Interval1w, Interval1M,
}

var intervalWidths = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// ParseInterval validates an interval string.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if iv == Interval1M {
		return iv, nil
	}
	if _, ok := intervalWidths[iv]; !ok {
		return "", &ValidationError{
			Message: fmt.Sprintf("Unknown interval: %s. Must be one of: 1m, 5m, 15m, 1h, 4h, 1d, 1w, 1M", s),
		}
	}
	return iv, nil
}

// BucketStart returns the start of the bucket containing t. Fixed widths
// are floored on Unix time; 1M uses the UTC calendar month.
func (iv Interval) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	if iv == Interval1M {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	width := int64(intervalWidths[iv] / time.Second)
	sec := t.Unix()
	start := sec - mod(sec, width)
	return time.Unix(start, 0).UTC()
}

// BucketEnd returns the exclusive end of the bucket starting at start.
func (iv Interval) BucketEnd(start time.Time) time.Time {
	if iv == Interval1M {
		return start.AddDate(0, 1, 0)
	}
	return start.Add(intervalWidths[iv])
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Candle is the OHLCV summary of one property for one bucket.
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High.
type Candle struct {
	PropertyID   string
	Interval     Interval
	BucketStart  time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       decimal.Decimal
	QuoteVolume  decimal.Decimal
	TradeCount   int64
	FirstTradeAt time.Time
	LastTradeAt  time.Time
}

// NewCandle opens a bucket with a single trade.
func NewCandle(propertyID string, iv Interval, price, amount decimal.Decimal, at time.Time) *Candle {
	return &Candle{
		PropertyID:   propertyID,
		Interval:     iv,
		BucketStart:  iv.BucketStart(at),
		Open:         price,
		High:         price,
		Low:          price,
		Close:        price,
		Volume:       amount,
		QuoteVolume:  price.Mul(amount),
		TradeCount:   1,
		FirstTradeAt: at,
		LastTradeAt:  at,
	}
}

// Apply folds one trade into the bucket. A trade older than the bucket's
// first trade becomes the open; one at or after the last trade becomes the
// close, so late arrivals land where they belong in time.
func (c *Candle) Apply(price, amount decimal.Decimal, at time.Time) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	if at.Before(c.FirstTradeAt) {
		c.Open = price
		c.FirstTradeAt = at
	}
	if !at.Before(c.LastTradeAt) {
		c.Close = price
		c.LastTradeAt = at
	}
	c.Volume = c.Volume.Add(amount)
	c.QuoteVolume = c.QuoteVolume.Add(price.Mul(amount))
	c.TradeCount++
}
