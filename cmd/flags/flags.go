// Package flags holds CLI flags shared across frontdoor commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/agentrail/frontdoor/common"
	"github.com/agentrail/frontdoor/httpserver"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var DBPathFlag = &cli.StringFlag{
	Name:  "db-path",
	Value: "frontdoor.db",
	Usage: "path to the sqlite database file",
}

var ChainLogPathFlag = &cli.StringFlag{
	Name:  "chain-log-path",
	Value: "lineage.chain.jsonl",
	Usage: "path to the append-only verification chain log",
}

var SigningKeyFlag = &cli.StringFlag{
	Name:    "signing-key",
	Usage:   "hex-encoded secp256k1 private key for fallback verification signing",
	EnvVars: []string{"FRONTDOOR_SIGNING_KEY"},
}

var FallbackEnabledFlag = &cli.BoolFlag{
	Name:  "fallback-enabled",
	Value: true,
	Usage: "allow locally signed verification when the primary verifier is unavailable",
}

var VerifierURLFlag = &cli.StringFlag{
	Name:  "verifier-url",
	Usage: "base URL of the primary verification backend (empty disables primary)",
}

var VerifierAuthSchemeFlag = &cli.StringFlag{
	Name:  "verifier-auth-scheme",
	Value: "bearer",
	Usage: "auth scheme for the primary verifier: 'bearer' or 'api_key'",
}

var VerifierAuthTokenFlag = &cli.StringFlag{
	Name:    "verifier-auth-token",
	Usage:   "credential sent to the primary verifier",
	EnvVars: []string{"FRONTDOOR_VERIFIER_TOKEN"},
}

var VerifierTimeoutFlag = &cli.Int64Flag{
	Name:  "verifier-timeout-seconds",
	Value: 10,
	Usage: "per-request timeout for the primary verifier",
}

var ProvisionCmdFlag = &cli.StringFlag{
	Name:  "provision-cmd",
	Usage: "command executed to provision an agent runtime (empty falls back to default-instance-url)",
}

var ProvisionArgsFlag = &cli.StringSliceFlag{
	Name:  "provision-arg",
	Usage: "argument passed to the provisioning command, repeatable",
}

var ProvisionTimeoutFlag = &cli.Int64Flag{
	Name:  "provision-timeout-seconds",
	Value: 120,
	Usage: "timeout for a single provisioning command invocation",
}

var DefaultInstanceURLFlag = &cli.StringFlag{
	Name:  "default-instance-url",
	Usage: "preprovisioned instance URL used when no provisioning command is configured",
}

var MaxAttemptsFlag = &cli.IntFlag{
	Name:  "max-attempts",
	Value: 5,
	Usage: "maximum provisioning command attempts per session",
}

var RetryBudgetFlag = &cli.Int64Flag{
	Name:  "retry-budget-seconds",
	Value: 120,
	Usage: "wall-clock budget across provisioning retries",
}

var FundingDenylistFlag = &cli.StringSliceFlag{
	Name:  "funding-denylist",
	Usage: "wallet address denied provisioning by policy, repeatable",
}

var BestEffortSeedFlag = &cli.BoolFlag{
	Name:  "best-effort-seed",
	Value: false,
	Usage: "treat settings import failures as non-fatal",
}

var ChallengeTTLFlag = &cli.Int64Flag{
	Name:  "challenge-ttl-seconds",
	Value: 900,
	Usage: "challenge validity window",
}

var ChainIDFlag = &cli.Int64Flag{
	Name:  "chain-id",
	Value: 1,
	Usage: "chain id embedded in challenge messages when the client does not supply one",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
}
