package main

import (
	"crypto/ecdsa"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentrail/frontdoor/cmd/flags"
	"github.com/agentrail/frontdoor/common"
	"github.com/agentrail/frontdoor/httpserver"
	"github.com/agentrail/frontdoor/lineage"
	"github.com/agentrail/frontdoor/provisioner"
	"github.com/agentrail/frontdoor/session"
	"github.com/agentrail/frontdoor/storage"
	"github.com/agentrail/frontdoor/timeline"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.DBPathFlag,
	flags.ChainLogPathFlag,
	flags.SigningKeyFlag,
	flags.FallbackEnabledFlag,
	flags.VerifierURLFlag,
	flags.VerifierAuthSchemeFlag,
	flags.VerifierAuthTokenFlag,
	flags.VerifierTimeoutFlag,
	flags.ProvisionCmdFlag,
	flags.ProvisionArgsFlag,
	flags.ProvisionTimeoutFlag,
	flags.DefaultInstanceURLFlag,
	flags.MaxAttemptsFlag,
	flags.RetryBudgetFlag,
	flags.FundingDenylistFlag,
	flags.BestEffortSeedFlag,
	flags.ChallengeTTLFlag,
	flags.ChainIDFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "frontdoor",
		Usage: "Serve the wallet-authenticated agent runtime frontdoor API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			store, err := storage.NewSQLiteStore(cCtx.String(flags.DBPathFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to open database", "err", err)
				return err
			}
			defer store.Close()

			events := timeline.NewLog(store, logger)

			fallbackEnabled := cCtx.Bool(flags.FallbackEnabledFlag.Name)
			var signingKey *ecdsa.PrivateKey
			if keyHex := cCtx.String(flags.SigningKeyFlag.Name); keyHex != "" {
				signingKey, err = crypto.HexToECDSA(keyHex)
				if err != nil {
					logger.Error("Invalid signing key", "err", err)
					return err
				}
			} else if fallbackEnabled {
				logger.Error("signing-key is required when fallback verification is enabled")
				return errors.New("signing-key is required when fallback-enabled is set")
			}

			chainLog, err := lineage.OpenChainLog(cCtx.String(flags.ChainLogPathFlag.Name))
			if err != nil {
				logger.Error("Failed to open chain log", "err", err)
				return err
			}
			defer chainLog.Close()

			// Refuse to start on a diverged chain. A tampered or truncated
			// log must be repaired by an operator, not extended.
			if err := chainLog.VerifyChain(); err != nil {
				logger.Error("Chain log failed integrity check", "err", err)
				return err
			}
			logger.Info("Chain log verified")

			var primary *lineage.PrimaryClient
			if verifierURL := cCtx.String(flags.VerifierURLFlag.Name); verifierURL != "" {
				primary = &lineage.PrimaryClient{
					URL:        verifierURL,
					AuthScheme: cCtx.String(flags.VerifierAuthSchemeFlag.Name),
					AuthToken:  cCtx.String(flags.VerifierAuthTokenFlag.Name),
					Timeout:    time.Duration(cCtx.Int64(flags.VerifierTimeoutFlag.Name)) * time.Second,
				}
			}

			engine, err := lineage.NewEngine(store, primary, chainLog, signingKey, fallbackEnabled, logger)
			if err != nil {
				logger.Error("Failed to create lineage engine", "err", err)
				return err
			}

			sessions := session.New(store, events, session.Config{
				ChallengeTTL:   time.Duration(cCtx.Int64(flags.ChallengeTTLFlag.Name)) * time.Second,
				DefaultChainID: cCtx.Int64(flags.ChainIDFlag.Name),
			}, logger)

			var runner provisioner.CommandRunner
			if command := cCtx.String(flags.ProvisionCmdFlag.Name); command != "" {
				runner = &provisioner.ExecRunner{
					Command: command,
					Args:    cCtx.StringSlice(flags.ProvisionArgsFlag.Name),
					Timeout: time.Duration(cCtx.Int64(flags.ProvisionTimeoutFlag.Name)) * time.Second,
				}
			}

			funding := provisioner.DefaultFundingChecker()
			if denylist := cCtx.StringSlice(flags.FundingDenylistFlag.Name); len(denylist) > 0 {
				funding.Policy, err = provisioner.DenylistPolicy(denylist)
				if err != nil {
					logger.Error("Invalid funding denylist", "err", err)
					return err
				}
			}

			orch := provisioner.New(store, events, sessions, runner, funding, nil, engine, provisioner.Config{
				DefaultInstanceURL: cCtx.String(flags.DefaultInstanceURLFlag.Name),
				MaxAttempts:        cCtx.Int(flags.MaxAttemptsFlag.Name),
				RetryBudget:        time.Duration(cCtx.Int64(flags.RetryBudgetFlag.Name)) * time.Second,
				BestEffortSeed:     cCtx.Bool(flags.BestEffortSeedFlag.Name),
			}, logger)
			sessions.SetProvisioner(orch)

			handler := httpserver.NewHandler(sessions, events, httpserver.Features{
				CommandBackend:     runner != nil,
				DefaultInstanceURL: cCtx.String(flags.DefaultInstanceURLFlag.Name) != "",
				FallbackEnabled:    fallbackEnabled,
			}, logger)

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "version", common.Version, "listen", cCtx.String(flags.ListenAddrFlag.Name))
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
