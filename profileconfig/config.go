// Package profileconfig defines the user-supplied runtime configuration for
// an agent instance and its domain-scoped validation rules.
//
// A configuration is a tagged structure keyed by ProfileDomain: a shared
// base record always applies, and each domain adds its own required block.
// Validation is all-or-nothing; either a normalized config or a list of
// field-level errors is returned, never partial success.
package profileconfig

import (
	"fmt"
	"strings"

	"github.com/agentrail/frontdoor/interfaces"
)

// ProfileDomain selects which domain-specific rule set applies.
type ProfileDomain string

const (
	DomainGeneral ProfileDomain = "general"
	DomainTrading ProfileDomain = "trading"
)

// CustodyMode classifies which wallet controls funds and actions.
type CustodyMode string

const (
	CustodyOperatorWallet CustodyMode = "operator_wallet"
	CustodyUserWallet     CustodyMode = "user_wallet"
	CustodyDualMode       CustodyMode = "dual_mode"
)

// VerificationBackend selects how gated actions are attested.
type VerificationBackend string

const (
	// BackendPrimary uses the remote verification backend, with local
	// fallback when enabled.
	BackendPrimary VerificationBackend = "primary"

	// BackendFallbackOnly skips the primary backend entirely. Requires
	// VerificationFallbackEnabled.
	BackendFallbackOnly VerificationBackend = "fallback_only"
)

// RuntimeConfig is the user-supplied configuration pushed into a
// provisioned instance.
type RuntimeConfig struct {
	ProfileName                 string              `json:"profile_name"`
	ProfileDomain               ProfileDomain       `json:"profile_domain"`
	CustodyMode                 CustodyMode         `json:"custody_mode"`
	UserWalletAddress           string              `json:"user_wallet_address,omitempty"`
	GatewayAuthKey              string              `json:"gateway_auth_key"`
	VerificationBackend         VerificationBackend `json:"verification_backend"`
	VerificationFallbackEnabled bool                `json:"verification_fallback_enabled"`
	AcceptTerms                 bool                `json:"accept_terms"`

	// Trading carries the trading-domain block; required iff
	// ProfileDomain is DomainTrading.
	Trading *TradingConfig `json:"trading,omitempty"`
}

// TradingConfig is the trading-domain rule block.
type TradingConfig struct {
	Network         string   `json:"network"`
	MaxPositionUSD  float64  `json:"max_position_usd"`
	MaxDailyLossUSD float64  `json:"max_daily_loss_usd"`
	SymbolAllowlist []string `json:"symbol_allowlist,omitempty"`
	SymbolDenylist  []string `json:"symbol_denylist,omitempty"`
}

// FieldError describes a single invalid or missing field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is the all-or-nothing validation result.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate normalizes and policy-checks a runtime configuration against the
// authenticated wallet. On success the returned config is a normalized copy;
// on failure every violated rule is reported.
func Validate(cfg *RuntimeConfig, wallet interfaces.WalletAddress) (*RuntimeConfig, FieldErrors) {
	var errs FieldErrors

	out := *cfg
	out.ProfileName = strings.TrimSpace(out.ProfileName)
	out.UserWalletAddress = strings.ToLower(strings.TrimSpace(out.UserWalletAddress))
	if out.ProfileDomain == "" {
		out.ProfileDomain = DomainGeneral
	}
	if out.VerificationBackend == "" {
		out.VerificationBackend = BackendPrimary
	}

	if out.ProfileName == "" {
		errs = append(errs, FieldError{"profile_name", "required"})
	}
	switch out.ProfileDomain {
	case DomainGeneral, DomainTrading:
	default:
		errs = append(errs, FieldError{"profile_domain", fmt.Sprintf("unknown domain %q", out.ProfileDomain)})
	}
	switch out.CustodyMode {
	case CustodyOperatorWallet, CustodyUserWallet, CustodyDualMode:
	case "":
		errs = append(errs, FieldError{"custody_mode", "required"})
	default:
		errs = append(errs, FieldError{"custody_mode", fmt.Sprintf("unknown custody mode %q", out.CustodyMode)})
	}
	if out.GatewayAuthKey == "" {
		errs = append(errs, FieldError{"gateway_auth_key", "required"})
	}
	if !out.AcceptTerms {
		errs = append(errs, FieldError{"accept_terms", "terms must be accepted"})
	}

	switch out.VerificationBackend {
	case BackendPrimary:
	case BackendFallbackOnly:
		if !out.VerificationFallbackEnabled {
			errs = append(errs, FieldError{"verification_fallback_enabled", "must be true when verification_backend is fallback_only"})
		}
	default:
		errs = append(errs, FieldError{"verification_backend", fmt.Sprintf("unknown backend %q", out.VerificationBackend)})
	}

	// Custody-mode invariant: user-controlled custody binds the config to
	// the wallet that signed the challenge. Re-checked here even when the
	// config was suggested earlier.
	if out.CustodyMode == CustodyUserWallet || out.CustodyMode == CustodyDualMode {
		if out.UserWalletAddress == "" {
			errs = append(errs, FieldError{"user_wallet_address", "required for user_wallet and dual_mode custody"})
		} else if out.UserWalletAddress != wallet.String() {
			errs = append(errs, FieldError{"user_wallet_address", "must equal the authenticated wallet"})
		}
	}

	if out.ProfileDomain == DomainTrading {
		errs = append(errs, validateTrading(out.Trading)...)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &out, nil
}

func validateTrading(t *TradingConfig) FieldErrors {
	if t == nil {
		return FieldErrors{{"trading", "required for the trading domain"}}
	}

	var errs FieldErrors
	if strings.TrimSpace(t.Network) == "" {
		errs = append(errs, FieldError{"trading.network", "required"})
	}
	if t.MaxPositionUSD <= 0 {
		errs = append(errs, FieldError{"trading.max_position_usd", "must be positive"})
	}
	if t.MaxDailyLossUSD <= 0 {
		errs = append(errs, FieldError{"trading.max_daily_loss_usd", "must be positive"})
	}

	denied := make(map[string]bool, len(t.SymbolDenylist))
	for _, sym := range t.SymbolDenylist {
		denied[strings.ToUpper(sym)] = true
	}
	for _, sym := range t.SymbolAllowlist {
		if denied[strings.ToUpper(sym)] {
			errs = append(errs, FieldError{"trading.symbol_allowlist", fmt.Sprintf("symbol %q appears in both allow and deny lists", sym)})
		}
	}
	return errs
}
