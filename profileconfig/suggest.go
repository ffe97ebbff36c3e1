package profileconfig

import (
	"strings"

	"github.com/agentrail/frontdoor/interfaces"
)

var tradingKeywords = []string{"trade", "trading", "swap", "arbitrage", "market", "defi", "perp"}

// SuggestDraft builds a draft configuration from a wallet and a free-form
// intent description. The draft is a starting point only; Validate runs
// against whatever the client actually submits at verify time.
func SuggestDraft(wallet interfaces.WalletAddress, intent string) *RuntimeConfig {
	cfg := &RuntimeConfig{
		ProfileName:                 "agent",
		ProfileDomain:               DomainGeneral,
		CustodyMode:                 CustodyOperatorWallet,
		VerificationBackend:         BackendPrimary,
		VerificationFallbackEnabled: true,
	}

	lowered := strings.ToLower(intent)
	for _, kw := range tradingKeywords {
		if strings.Contains(lowered, kw) {
			cfg.ProfileName = "trading-agent"
			cfg.ProfileDomain = DomainTrading
			cfg.CustodyMode = CustodyUserWallet
			cfg.UserWalletAddress = wallet.String()
			cfg.Trading = &TradingConfig{
				Network:         "mainnet",
				MaxPositionUSD:  1000,
				MaxDailyLossUSD: 100,
			}
			break
		}
	}
	return cfg
}
