package profileconfig

// FieldSpec describes one config field for the discovery contract.
type FieldSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// DomainContract lists the fields one profile domain accepts.
type DomainContract struct {
	Domain ProfileDomain `json:"domain"`
	Fields []FieldSpec   `json:"fields"`
}

// Contract returns the per-domain field schema served by /config-contract.
// It is derived from the same rules Validate enforces.
func Contract() []DomainContract {
	base := []FieldSpec{
		{Name: "profile_name", Type: "string", Required: true},
		{Name: "profile_domain", Type: "string", Required: false, Description: "general (default) or trading"},
		{Name: "custody_mode", Type: "string", Required: true, Description: "operator_wallet, user_wallet or dual_mode"},
		{Name: "user_wallet_address", Type: "string", Required: false, Description: "required for user_wallet and dual_mode custody; must equal the authenticated wallet"},
		{Name: "gateway_auth_key", Type: "string", Required: true},
		{Name: "verification_backend", Type: "string", Required: true, Description: "primary (default) or fallback_only"},
		{Name: "verification_fallback_enabled", Type: "bool", Required: false, Description: "must be true when verification_backend is fallback_only"},
		{Name: "accept_terms", Type: "bool", Required: true},
	}

	trading := append(append([]FieldSpec{}, base...),
		FieldSpec{Name: "trading.network", Type: "string", Required: true},
		FieldSpec{Name: "trading.max_position_usd", Type: "number", Required: true},
		FieldSpec{Name: "trading.max_daily_loss_usd", Type: "number", Required: true},
		FieldSpec{Name: "trading.symbol_allowlist", Type: "[]string", Required: false},
		FieldSpec{Name: "trading.symbol_denylist", Type: "[]string", Required: false},
	)

	return []DomainContract{
		{Domain: DomainGeneral, Fields: base},
		{Domain: DomainTrading, Fields: trading},
	}
}
