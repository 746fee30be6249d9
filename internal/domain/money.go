package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// defaultScales maps known currencies to their minor-unit precision.
var defaultScales = map[string]int32{
	"USD":  2,
	"EUR":  2,
	"GBP":  2,
	"USDC": 6,
}

// CurrencyRegistry tracks the currencies orders may be placed in.
type CurrencyRegistry struct {
	mu     sync.RWMutex
	scales map[string]int32
	dflt   string
}

// NewCurrencyRegistry builds a registry from currency codes. The first code
// is the default for requests that omit a currency. Unknown codes get a
// scale of 2.
func NewCurrencyRegistry(codes ...string) *CurrencyRegistry {
	r := &CurrencyRegistry{scales: make(map[string]int32, len(codes))}
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if r.dflt == "" {
			r.dflt = c
		}
		scale, ok := defaultScales[c]
		if !ok {
			scale = 2
		}
		r.scales[c] = scale
	}
	return r
}

// Default returns the currency used when a request omits one.
func (r *CurrencyRegistry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dflt
}

// Supported reports whether code may be traded.
func (r *CurrencyRegistry) Supported(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scales[code]
	return ok
}

// Scale returns the number of decimal places used for code.
func (r *CurrencyRegistry) Scale(code string) int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.scales[code]; ok {
		return s
	}
	return 2
}

// Codes lists the supported currencies in sorted order.
func (r *CurrencyRegistry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scales))
	for c := range r.scales {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Normalize resolves an optional currency code against the registry.
func (r *CurrencyRegistry) Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = r.Default()
	}
	if !r.Supported(code) {
		return "", &ValidationError{
			Message: fmt.Sprintf("Unsupported currency: %s. Must be one of: %s", code, strings.Join(r.Codes(), ", ")),
		}
	}
	return code, nil
}

// RoundMoney rounds an amount half-up to the currency's precision.
func (r *CurrencyRegistry) RoundMoney(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(r.Scale(code))
}
