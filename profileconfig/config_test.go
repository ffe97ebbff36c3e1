package profileconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrail/frontdoor/interfaces"
)

func testWallet(t *testing.T) interfaces.WalletAddress {
	t.Helper()
	wallet, err := interfaces.NewWalletAddressFromHex("0x00112233445566778899aabbccddeeff00112233")
	require.NoError(t, err)
	return wallet
}

func validGeneralConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ProfileName:         "research assistant",
		ProfileDomain:       DomainGeneral,
		CustodyMode:         CustodyOperatorWallet,
		GatewayAuthKey:      "gw-key-1",
		VerificationBackend: BackendPrimary,
		AcceptTerms:         true,
	}
}

func validTradingConfig(wallet interfaces.WalletAddress) *RuntimeConfig {
	cfg := validGeneralConfig()
	cfg.ProfileDomain = DomainTrading
	cfg.CustodyMode = CustodyUserWallet
	cfg.UserWalletAddress = wallet.String()
	cfg.Trading = &TradingConfig{
		Network:         "base",
		MaxPositionUSD:  1000,
		MaxDailyLossUSD: 200,
		SymbolAllowlist: []string{"ETH", "BTC"},
	}
	return cfg
}

func TestValidateGeneralConfig(t *testing.T) {
	wallet := testWallet(t)

	out, errs := Validate(validGeneralConfig(), wallet)
	require.Nil(t, errs)
	require.NotNil(t, out)
	assert.Equal(t, DomainGeneral, out.ProfileDomain)
	assert.Equal(t, BackendPrimary, out.VerificationBackend)
}

func TestValidateAppliesDefaults(t *testing.T) {
	wallet := testWallet(t)

	cfg := validGeneralConfig()
	cfg.ProfileDomain = ""
	cfg.VerificationBackend = ""
	cfg.ProfileName = "  padded name  "

	out, errs := Validate(cfg, wallet)
	require.Nil(t, errs)
	assert.Equal(t, DomainGeneral, out.ProfileDomain)
	assert.Equal(t, BackendPrimary, out.VerificationBackend)
	assert.Equal(t, "padded name", out.ProfileName)
}

func TestValidateIsAllOrNothing(t *testing.T) {
	wallet := testWallet(t)

	cfg := &RuntimeConfig{}
	out, errs := Validate(cfg, wallet)
	require.Nil(t, out)
	require.NotEmpty(t, errs)

	fields := make(map[string]bool)
	for _, fe := range errs {
		fields[fe.Field] = true
	}
	assert.True(t, fields["profile_name"])
	assert.True(t, fields["custody_mode"])
	assert.True(t, fields["gateway_auth_key"])
	assert.True(t, fields["accept_terms"])
}

func TestValidateFieldRules(t *testing.T) {
	wallet := testWallet(t)

	tests := []struct {
		name      string
		mutate    func(*RuntimeConfig)
		wantField string
	}{
		{
			name:      "unknown domain",
			mutate:    func(c *RuntimeConfig) { c.ProfileDomain = "gaming" },
			wantField: "profile_domain",
		},
		{
			name:      "unknown custody mode",
			mutate:    func(c *RuntimeConfig) { c.CustodyMode = "shared" },
			wantField: "custody_mode",
		},
		{
			name:      "terms not accepted",
			mutate:    func(c *RuntimeConfig) { c.AcceptTerms = false },
			wantField: "accept_terms",
		},
		{
			name:      "unknown verification backend",
			mutate:    func(c *RuntimeConfig) { c.VerificationBackend = "notary" },
			wantField: "verification_backend",
		},
		{
			name: "fallback_only requires fallback enabled",
			mutate: func(c *RuntimeConfig) {
				c.VerificationBackend = BackendFallbackOnly
				c.VerificationFallbackEnabled = false
			},
			wantField: "verification_fallback_enabled",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validGeneralConfig()
			tc.mutate(cfg)

			out, errs := Validate(cfg, wallet)
			require.Nil(t, out)
			require.NotEmpty(t, errs)

			found := false
			for _, fe := range errs {
				if fe.Field == tc.wantField {
					found = true
				}
			}
			assert.True(t, found, "expected error on field %s, got %v", tc.wantField, errs)
		})
	}
}

func TestValidateFallbackOnlyWithFallbackEnabled(t *testing.T) {
	wallet := testWallet(t)

	cfg := validGeneralConfig()
	cfg.VerificationBackend = BackendFallbackOnly
	cfg.VerificationFallbackEnabled = true

	out, errs := Validate(cfg, wallet)
	require.Nil(t, errs)
	assert.Equal(t, BackendFallbackOnly, out.VerificationBackend)
}

func TestValidateCustodyBindsWallet(t *testing.T) {
	wallet := testWallet(t)

	// user_wallet custody without an address.
	cfg := validGeneralConfig()
	cfg.CustodyMode = CustodyUserWallet
	out, errs := Validate(cfg, wallet)
	require.Nil(t, out)
	assert.Equal(t, "user_wallet_address", errs[0].Field)

	// dual_mode custody bound to someone else's wallet.
	cfg = validGeneralConfig()
	cfg.CustodyMode = CustodyDualMode
	cfg.UserWalletAddress = "0xffffffffffffffffffffffffffffffffffffffff"
	out, errs = Validate(cfg, wallet)
	require.Nil(t, out)
	assert.Equal(t, "user_wallet_address", errs[0].Field)

	// Matching wallet passes, case-insensitively.
	cfg = validGeneralConfig()
	cfg.CustodyMode = CustodyUserWallet
	cfg.UserWalletAddress = "0x00112233445566778899AABBCCDDEEFF00112233"
	out, errs = Validate(cfg, wallet)
	require.Nil(t, errs)
	assert.Equal(t, wallet.String(), out.UserWalletAddress)
}

func TestValidateTradingRules(t *testing.T) {
	wallet := testWallet(t)

	out, errs := Validate(validTradingConfig(wallet), wallet)
	require.Nil(t, errs)
	require.NotNil(t, out.Trading)

	// Trading block required for the trading domain.
	cfg := validTradingConfig(wallet)
	cfg.Trading = nil
	out, errs = Validate(cfg, wallet)
	require.Nil(t, out)
	assert.Equal(t, "trading", errs[0].Field)

	// Non-positive limits are rejected.
	cfg = validTradingConfig(wallet)
	cfg.Trading.MaxPositionUSD = 0
	cfg.Trading.MaxDailyLossUSD = -5
	out, errs = Validate(cfg, wallet)
	require.Nil(t, out)
	require.Len(t, errs, 2)

	// A symbol cannot be both allowed and denied.
	cfg = validTradingConfig(wallet)
	cfg.Trading.SymbolDenylist = []string{"eth"}
	out, errs = Validate(cfg, wallet)
	require.Nil(t, out)
	assert.Equal(t, "trading.symbol_allowlist", errs[0].Field)
}

func TestFieldErrorsMessage(t *testing.T) {
	errs := FieldErrors{
		{"profile_name", "required"},
		{"accept_terms", "terms must be accepted"},
	}
	assert.Equal(t, "invalid config: profile_name: required; accept_terms: terms must be accepted", errs.Error())
}

func TestContractListsBothDomains(t *testing.T) {
	domains := Contract()
	require.Len(t, domains, 2)

	names := []string{string(domains[0].Domain), string(domains[1].Domain)}
	assert.Contains(t, names, "general")
	assert.Contains(t, names, "trading")

	for _, domain := range domains {
		assert.NotEmpty(t, domain.Fields)
	}
}

func TestSuggestDraftDetectsTradingIntent(t *testing.T) {
	wallet := testWallet(t)

	draft := SuggestDraft(wallet, "I want a bot to trade ETH perps on base")
	require.NotNil(t, draft)
	assert.Equal(t, DomainTrading, draft.ProfileDomain)
	require.NotNil(t, draft.Trading)

	// The suggested draft must survive its own validation once the user
	// fills in credentials and accepts terms.
	draft.GatewayAuthKey = "gw-key"
	draft.AcceptTerms = true
	_, errs := Validate(draft, wallet)
	assert.Nil(t, errs)
}

func TestSuggestDraftDefaultsToGeneral(t *testing.T) {
	wallet := testWallet(t)

	draft := SuggestDraft(wallet, "summarize my unread email every morning")
	require.NotNil(t, draft)
	assert.Equal(t, DomainGeneral, draft.ProfileDomain)
	assert.Nil(t, draft.Trading)
}
