package provisioner

import (
	"context"
	"fmt"

	"github.com/agentrail/frontdoor/interfaces"
	"github.com/agentrail/frontdoor/profileconfig"
)

// Funding preflight categories, checked in this fixed order so the first
// failing category is deterministic.
const (
	FundingGas    = "gas"
	FundingFee    = "fee"
	FundingAuth   = "auth"
	FundingPolicy = "policy"
)

// FundingCheck validates one category for a wallet. A nil return passes.
type FundingCheck func(ctx context.Context, wallet interfaces.WalletAddress, cfg *profileconfig.RuntimeConfig) error

// FundingChecker gates provisioning on wallet-linked account sufficiency.
type FundingChecker interface {
	// Check returns the first failing category ("gas", "fee", "auth",
	// "policy") and its detail, or ("", "") when all categories pass.
	Check(ctx context.Context, wallet interfaces.WalletAddress, cfg *profileconfig.RuntimeConfig) (category, detail string)
}

// PolicyFundingChecker evaluates per-category checks in the fixed order
// gas, fee, auth, policy. Unset categories pass.
type PolicyFundingChecker struct {
	Gas    FundingCheck
	Fee    FundingCheck
	Auth   FundingCheck
	Policy FundingCheck
}

// DefaultFundingChecker returns a checker with no categories wired, so
// every preflight passes. Deployments attach real balance and policy
// checks per category.
func DefaultFundingChecker() *PolicyFundingChecker {
	return &PolicyFundingChecker{}
}

// DenylistPolicy returns a policy-category check that rejects wallets on
// the given list. Entries are parsed as 0x-hex addresses; unparseable
// entries are an error so a typo in the operator's list fails loudly.
func DenylistPolicy(entries []string) (FundingCheck, error) {
	denied := make(map[interfaces.WalletAddress]struct{}, len(entries))
	for _, entry := range entries {
		wallet, err := interfaces.NewWalletAddressFromHex(entry)
		if err != nil {
			return nil, fmt.Errorf("parsing denylist entry %q: %w", entry, err)
		}
		denied[wallet] = struct{}{}
	}
	return func(ctx context.Context, wallet interfaces.WalletAddress, cfg *profileconfig.RuntimeConfig) error {
		if _, ok := denied[wallet]; ok {
			return fmt.Errorf("wallet %s denied by policy", wallet)
		}
		return nil
	}, nil
}

// Check implements FundingChecker.
func (c *PolicyFundingChecker) Check(ctx context.Context, wallet interfaces.WalletAddress, cfg *profileconfig.RuntimeConfig) (string, string) {
	ordered := []struct {
		category string
		check    FundingCheck
	}{
		{FundingGas, c.Gas},
		{FundingFee, c.Fee},
		{FundingAuth, c.Auth},
		{FundingPolicy, c.Policy},
	}
	for _, entry := range ordered {
		if entry.check == nil {
			continue
		}
		if err := entry.check(ctx, wallet, cfg); err != nil {
			return entry.category, err.Error()
		}
	}
	return "", ""
}
