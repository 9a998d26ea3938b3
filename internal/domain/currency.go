package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is an ISO code accepted for goals and donations.
type Currency string

const (
	CurrencyETB Currency = "ETB"
	CurrencyUSD Currency = "USD"
)

// SupportedCurrencies is the fixed set of currencies the platform accounts in.
var SupportedCurrencies = []Currency{CurrencyETB, CurrencyUSD}

var ErrInvalidRate = errors.New("exchange rate must be positive")

// ParseCurrency normalises and validates a currency code.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	for _, supported := range SupportedCurrencies {
		if c == supported {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported currency %q", raw)
}

// ValidAmount reports whether amount is positive and fits in whole cents.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}

// Ledger accumulates raised amounts keyed by currency.
type Ledger map[Currency]decimal.Decimal

// NewLedger returns a ledger with every supported currency at zero.
func NewLedger() Ledger {
	l := make(Ledger, len(SupportedCurrencies))
	for _, c := range SupportedCurrencies {
		l[c] = decimal.Zero
	}
	return l
}

// Amount returns the accumulated amount for c, zero when absent.
func (l Ledger) Amount(c Currency) decimal.Decimal {
	if v, ok := l[c]; ok {
		return v
	}
	return decimal.Zero
}

// Credit returns a copy of the ledger with amount added under c.
func (l Ledger) Credit(c Currency, amount decimal.Decimal) Ledger {
	out := NewLedger()
	for k, v := range l {
		out[k] = v
	}
	out[c] = out.Amount(c).Add(amount)
	return out
}

// CurrencyRate is the single current ETB/USD snapshot. Both values are relative to the
// provider's base currency.
type CurrencyRate struct {
	ID        uuid.UUID       `json:"id"`
	ETBValue  decimal.Decimal `json:"etbValue"`
	USDValue  decimal.Decimal `json:"usdValue"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ETBPerUSD derives the conversion rate used everywhere else.
func (r CurrencyRate) ETBPerUSD() (decimal.Decimal, error) {
	if !r.ETBValue.IsPositive() || !r.USDValue.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return r.ETBValue.Div(r.USDValue), nil
}

// Convert moves amount between currencies using etbPerUSD (ETB units per 1 USD).
func Convert(amount decimal.Decimal, from, to Currency, etbPerUSD decimal.Decimal) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	if !etbPerUSD.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	switch {
	case from == CurrencyUSD && to == CurrencyETB:
		return amount.Mul(etbPerUSD), nil
	case from == CurrencyETB && to == CurrencyUSD:
		return amount.Div(etbPerUSD), nil
	}
	return decimal.Zero, fmt.Errorf("no conversion from %s to %s", from, to)
}

// NeedsConversion reports whether totalling l in goal requires an exchange rate.
func NeedsConversion(l Ledger, goal Currency) bool {
	for _, c := range SupportedCurrencies {
		if c != goal && !l.Amount(c).IsZero() {
			return true
		}
	}
	return false
}

// Progress totals the ledger in the goal currency. Empty balances are skipped, so a
// ledger held only in the goal currency needs no rate.
func Progress(l Ledger, goal Currency, etbPerUSD decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, c := range SupportedCurrencies {
		amount := l.Amount(c)
		if amount.IsZero() {
			continue
		}
		converted, err := Convert(amount, c, goal, etbPerUSD)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(converted)
	}
	return total, nil
}

// GoalReached reports whether the ledger covers the campaign goal.
func (c Campaign) GoalReached(etbPerUSD decimal.Decimal) (bool, decimal.Decimal, error) {
	total, err := Progress(c.Raised, c.GoalCurrency, etbPerUSD)
	if err != nil {
		return false, decimal.Zero, err
	}
	return total.GreaterThanOrEqual(c.GoalAmount), total, nil
}
