// Package catalog is the static list of purchasable AGI Staffers products.
package catalog

import (
	"fmt"
	"strings"
)

type ProductType string

const (
	TypeSubscription ProductType = "subscription"
	TypeOneTime      ProductType = "one-time"
)

type DeliveryType string

const (
	DeliveryInstant   DeliveryType = "instant"
	DeliveryManual    DeliveryType = "manual"
	DeliveryScheduled DeliveryType = "scheduled"
)

const (
	PeriodMonth = "month"
	PeriodYear  = "year"
)

const DefaultCurrency = "USD"

// Product is immutable; orders copy the fields they need at creation time.
type Product struct {
	ID            string
	Name          string
	SKU           string
	Price         int64 // minor currency units
	Currency      string
	Type          ProductType
	BillingPeriod string
	Delivery      DeliveryType
	Tier          string
	Features      []string
}

func (p Product) IsSubscription() bool { return p.Type == TypeSubscription }

var products = []Product{
	{
		ID:       "ai-assistant-starter",
		Name:     "AI Assistant Starter",
		SKU:      "AGI-AST-STARTER",
		Price:    4999,
		Currency: DefaultCurrency,
		Type:     TypeOneTime,
		Delivery: DeliveryInstant,
		Tier:     "starter",
		Features: []string{"1 custom AI assistant", "Knowledge base up to 50 documents", "Email support"},
	},
	{
		ID:            "ai-assistant-pro",
		Name:          "AI Assistant Pro",
		SKU:           "AGI-AST-PRO-M",
		Price:         9999,
		Currency:      DefaultCurrency,
		Type:          TypeSubscription,
		BillingPeriod: PeriodMonth,
		Delivery:      DeliveryInstant,
		Tier:          "pro",
		Features:      []string{"5 custom AI assistants", "Unlimited knowledge base", "Priority support", "Usage analytics"},
	},
	{
		ID:            "ai-assistant-enterprise",
		Name:          "AI Assistant Enterprise",
		SKU:           "AGI-AST-ENT-M",
		Price:         29999,
		Currency:      DefaultCurrency,
		Type:          TypeSubscription,
		BillingPeriod: PeriodMonth,
		Delivery:      DeliveryManual,
		Tier:          "enterprise",
		Features:      []string{"Unlimited assistants", "Dedicated success manager", "SSO", "Custom integrations"},
	},
	{
		ID:       "website-starter",
		Name:     "Website Starter Package",
		SKU:      "AGI-WEB-STARTER",
		Price:    29999,
		Currency: DefaultCurrency,
		Type:     TypeOneTime,
		Delivery: DeliveryManual,
		Tier:     "starter",
		Features: []string{"5 page website", "Managed hosting for 1 year", "SSL certificate"},
	},
	{
		ID:            "managed-hosting",
		Name:          "Managed Hosting",
		SKU:           "AGI-HOST-M",
		Price:         4900,
		Currency:      DefaultCurrency,
		Type:          TypeSubscription,
		BillingPeriod: PeriodMonth,
		Delivery:      DeliveryInstant,
		Tier:          "hosting",
		Features:      []string{"Isolated container", "Daily backups", "Uptime monitoring"},
	},
	{
		ID:       "automation-setup",
		Name:     "Workflow Automation Setup",
		SKU:      "AGI-AUTO-SETUP",
		Price:    149900,
		Currency: DefaultCurrency,
		Type:     TypeOneTime,
		Delivery: DeliveryScheduled,
		Tier:     "starter",
		Features: []string{"Discovery workshop", "Up to 10 automated workflows", "30 days of tuning"},
	},
}

// All returns a copy of the catalog.
func All() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// Find looks a product up by id, case-insensitively.
func Find(id string) (Product, bool) {
	needle := strings.ToLower(strings.TrimSpace(id))
	for _, p := range products {
		if p.ID == needle {
			return p, true
		}
	}
	return Product{}, false
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"THB": "฿",
}

// FormatPrice renders minor units for display, e.g. 4999 USD -> "$49.99".
func FormatPrice(amount int64, currency string) string {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	major, minor := amount/100, amount%100
	if sym, ok := currencySymbols[cur]; ok {
		return fmt.Sprintf("%s%s%d.%02d", sign, sym, major, minor)
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, major, minor, cur)
}

// FormatPriceWithPeriod appends the billing period for subscriptions ("$99.99/month").
func FormatPriceWithPeriod(p Product) string {
	s := FormatPrice(p.Price, p.Currency)
	if p.IsSubscription() && p.BillingPeriod != "" {
		s += "/" + p.BillingPeriod
	}
	return s
}

// ParseMinorUnits converts a decimal string such as "299.99" into 29999.
// More than two fraction digits is an error rather than a rounding.
func ParseMinorUnits(s string) (int64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var total int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		total = total*10 + int64(r-'0')
		if total < 0 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
	}
	if neg {
		total = -total
	}
	return total, nil
}
