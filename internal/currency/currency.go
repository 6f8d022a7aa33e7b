// Package currency is the single country/currency lookup the rest of the
// client consults. Rates are expressed against the Nigerian naira, the base
// currency points convert in.
package currency

import (
	"fmt"
	"math"
	"strings"
)

// PointsToCashRate is the cash value of one point in the base currency.
const PointsToCashRate = 100 // 1 point = ₦100

// MinWithdrawalBase is the minimum withdrawal amount in the base currency.
const MinWithdrawalBase = 500

// Country keys as the API and the settings form use them.
const (
	Nigeria = "nigeria"
	Ghana   = "ghana"
	Kenya   = "kenya"
	USA     = "usa"
	Canada  = "canada"
	Mexico  = "mexico"
)

// Info describes one supported country's currency.
type Info struct {
	Country     string
	Code        string // ISO 4217
	Symbol      string
	Rate        float64 // units of this currency per 1 NGN
	MobileMoney bool    // mobile-money withdrawals supported
}

var countries = map[string]Info{
	Nigeria: {Country: Nigeria, Code: "NGN", Symbol: "₦", Rate: 1, MobileMoney: false},
	Ghana:   {Country: Ghana, Code: "GHS", Symbol: "₵", Rate: 0.0094, MobileMoney: true},
	Kenya:   {Country: Kenya, Code: "KES", Symbol: "KSh", Rate: 0.085, MobileMoney: true},
	USA:     {Country: USA, Code: "USD", Symbol: "$", Rate: 0.00065, MobileMoney: false},
	Canada:  {Country: Canada, Code: "CAD", Symbol: "C$", Rate: 0.00089, MobileMoney: false},
	Mexico:  {Country: Mexico, Code: "MXN", Symbol: "Mex$", Rate: 0.011, MobileMoney: false},
}

// Lookup returns the currency info for a country key.
func Lookup(country string) (Info, error) {
	info, ok := countries[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return Info{}, fmt.Errorf("unsupported country %q", country)
	}
	return info, nil
}

// Default is the fallback when no country can be inferred.
func Default() Info {
	return countries[Nigeria]
}

// CountryForPhone infers the country key from an international phone
// prefix. Unknown prefixes fall back to Nigeria, matching the sign-up flow.
func CountryForPhone(phone string) string {
	p := strings.TrimPrefix(phone, "+")
	switch {
	case strings.HasPrefix(p, "234"):
		return Nigeria
	case strings.HasPrefix(p, "233"):
		return Ghana
	case strings.HasPrefix(p, "254"):
		return Kenya
	case strings.HasPrefix(p, "52"):
		return Mexico
	case strings.HasPrefix(p, "1"):
		return USA
	default:
		return Nigeria
	}
}

// CashValue converts points to cash in this currency.
func (i Info) CashValue(points int64) float64 {
	return float64(points) * PointsToCashRate * i.Rate
}

// PointsNeeded is the point cost of withdrawing amount in this currency,
// rounded up.
func (i Info) PointsNeeded(amount float64) int64 {
	amountBase := amount / i.Rate
	return int64(math.Ceil(amountBase / PointsToCashRate))
}

// MinWithdrawal is the minimum withdrawal amount in this currency.
func (i Info) MinWithdrawal() float64 {
	return MinWithdrawalBase * i.Rate
}

// Format renders an amount with this currency's symbol.
func (i Info) Format(amount float64) string {
	return fmt.Sprintf("%s%.2f %s", i.Symbol, amount, i.Code)
}
