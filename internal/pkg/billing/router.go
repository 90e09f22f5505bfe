package billing

import (
	"strings"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/env"
)

type RouterConfig struct {
	DefaultProvider      string
	StripeCountries      []string
	BankDepositCountries []string
}

func RouterConfigFromEnv() RouterConfig {
	return RouterConfig{
		DefaultProvider:      strings.ToLower(env.GetEnv("DEFAULT_CARD_PROVIDER", models.ProviderSquare)),
		StripeCountries:      env.GetEnvList("STRIPE_COUNTRIES"),
		BankDepositCountries: env.GetEnvList("BANK_DEPOSIT_COUNTRIES"),
	}
}

// Router picks the card gateway for a customer locale.
type Router struct {
	gateways        map[string]CardGateway
	defaultProvider string
	byCountry       map[string]string
	bankCountries   map[string]bool
}

func NewRouter(cfg RouterConfig, gateways ...CardGateway) *Router {
	r := &Router{
		gateways:        map[string]CardGateway{},
		defaultProvider: cfg.DefaultProvider,
		byCountry:       map[string]string{},
		bankCountries:   map[string]bool{},
	}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Name()] = g
		}
	}
	if r.defaultProvider == "" {
		r.defaultProvider = models.ProviderSquare
	}
	for _, c := range cfg.StripeCountries {
		r.byCountry[upper(c)] = models.ProviderStripe
	}
	for _, c := range cfg.BankDepositCountries {
		r.bankCountries[upper(c)] = true
	}
	return r
}

func (r *Router) Get(provider string) (CardGateway, bool) {
	g, ok := r.gateways[provider]
	return g, ok
}

// ForCountry falls back to the default provider when the country's preferred
// gateway is not registered.
func (r *Router) ForCountry(country string) (CardGateway, error) {
	if name, ok := r.byCountry[upper(country)]; ok {
		if g, ok := r.gateways[name]; ok {
			return g, nil
		}
	}
	if g, ok := r.gateways[r.defaultProvider]; ok {
		return g, nil
	}
	return nil, &apperrors.GatewayError{Provider: r.defaultProvider, Code: "NOT_CONFIGURED", Message: "no card gateway configured"}
}

// PrefersBankDeposit reports whether customers from country settle by transfer
// when they did not pick a method.
func (r *Router) PrefersBankDeposit(country string) bool {
	return r.bankCountries[upper(country)]
}
