package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/agentrail/frontdoor/interfaces"
	"github.com/agentrail/frontdoor/lineage"
	"github.com/agentrail/frontdoor/profileconfig"
	"github.com/agentrail/frontdoor/timeline"
)

// Error codes surfaced on terminally failed sessions and runs.
const (
	CodeUnconfigured       = "unconfigured"
	CodeProvisionFailed    = "provision_failed"
	CodeMalformedOutput    = "malformed_output"
	CodeInstanceUnhealthy  = "instance_unreachable"
	CodeSettingsSeedFailed = "settings_seed_failed"
	codeFundingPrefix      = "funding_"
)

// SessionLocker serializes orchestrator writes with verify and poll
// operations for the same session. Implemented by session.Service.
type SessionLocker interface {
	LockSession(id string) func()
}

// Config carries the orchestrator's tunables.
type Config struct {
	// DefaultInstanceURL is the shared instance used when no command
	// backend is configured. Empty means none.
	DefaultInstanceURL string

	// MaxAttempts caps command invocations per session. Default 5.
	MaxAttempts int

	// InitialBackoff seeds the exponential retry interval. Default 500ms.
	InitialBackoff time.Duration

	// RetryBudget bounds the wall-clock time spent retrying. Default 2m.
	RetryBudget time.Duration

	// SeedTimeout bounds the settings-import call. Default 30s.
	SeedTimeout time.Duration

	// BestEffortSeed degrades a failed settings import to reporting the raw
	// instance URL instead of failing the session.
	BestEffortSeed bool
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 2 * time.Minute
	}
	if c.SeedTimeout <= 0 {
		c.SeedTimeout = 30 * time.Second
	}
}

// Orchestrator provisions compute for verified sessions in the background.
type Orchestrator struct {
	store    interfaces.Store
	events   *timeline.Log
	locker   SessionLocker
	runner   CommandRunner // nil when the command backend is disabled
	funding  FundingChecker
	instance *InstanceClient
	lineage  *lineage.Engine
	cfg      Config
	log      *slog.Logger
}

// New creates an orchestrator. runner may be nil (no command backend);
// funding and lineageEngine may be nil to disable the respective gates.
func New(store interfaces.Store, events *timeline.Log, locker SessionLocker, runner CommandRunner, funding FundingChecker, instance *InstanceClient, lineageEngine *lineage.Engine, cfg Config, log *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if instance == nil {
		instance = &InstanceClient{}
	}
	return &Orchestrator{
		store:    store,
		events:   events,
		locker:   locker,
		runner:   runner,
		funding:  funding,
		instance: instance,
		lineage:  lineageEngine,
		cfg:      cfg,
		log:      log,
	}
}

// Provision starts provisioning for a verified session. It returns
// immediately; progress is observed via session status and the timeline.
func (o *Orchestrator) Provision(sess *interfaces.FrontdoorSession) {
	snapshot := *sess
	go o.run(&snapshot)
}

func (o *Orchestrator) run(sess *interfaces.FrontdoorSession) {
	ctx := context.Background()

	var cfg profileconfig.RuntimeConfig
	if err := json.Unmarshal(sess.ConfigJSON, &cfg); err != nil {
		o.failSession(ctx, sess, interfaces.SourceUnknown, CodeProvisionFailed,
			fmt.Sprintf("decoding session config: %v", err))
		return
	}

	// Fail closed when no backend is configured at all.
	if o.runner == nil && o.cfg.DefaultInstanceURL == "" {
		o.failSession(ctx, sess, interfaces.SourceUnconfigured, CodeUnconfigured,
			"no provisioning command or default instance URL configured")
		return
	}

	if o.funding != nil {
		if category, detail := o.funding.Check(ctx, sess.WalletAddress, &cfg); category != "" {
			o.failSession(ctx, sess, interfaces.SourceUnknown, codeFundingPrefix+category,
				fmt.Sprintf("funding preflight failed (%s): %s", category, detail))
			return
		}
	}

	var out *CommandOutput
	var source interfaces.ProvisioningSource
	if o.runner != nil {
		source = interfaces.SourceCommand
		parsed, err := o.attemptCommand(ctx, sess, &cfg)
		if err != nil {
			code := CodeProvisionFailed
			if errors.Is(err, interfaces.ErrEmptyOutput) {
				code = CodeMalformedOutput
			}
			o.failSession(ctx, sess, source, code, err.Error())
			return
		}
		out = parsed
	} else {
		source = interfaces.SourceDefaultInstanceURL
		run := &interfaces.ProvisioningRun{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Status:    interfaces.RunRunning,
			StartedAt: time.Now().UTC(),
		}
		if err := o.store.CreateRun(ctx, run); err != nil {
			o.failSession(ctx, sess, source, CodeProvisionFailed, err.Error())
			return
		}
		run.Status = interfaces.RunSucceeded
		run.InstanceURL = o.cfg.DefaultInstanceURL
		if err := o.store.SealRun(ctx, run); err != nil {
			o.log.Error("Failed to seal default-instance run", "err", err, "session", sess.ID)
		}
		out = &CommandOutput{InstanceURL: o.cfg.DefaultInstanceURL}
	}

	o.events.Append(ctx, sess.ID, "instance_created", string(interfaces.StatusProvisioning),
		fmt.Sprintf("instance at %s", out.InstanceURL), timeline.ActorProvisioner)

	if err := o.instance.WaitHealthy(ctx, out.InstanceURL); err != nil {
		o.failSession(ctx, sess, source, CodeInstanceUnhealthy,
			fmt.Sprintf("instance health poll failed: %v", err))
		return
	}
	o.events.Append(ctx, sess.ID, "instance_healthy", string(interfaces.StatusProvisioning),
		"instance reachable", timeline.ActorProvisioner)

	mode, seedErr := o.seedSettings(ctx, sess, &cfg, out)
	if seedErr != nil {
		if !o.cfg.BestEffortSeed {
			o.failSessionWithOutput(ctx, sess, source, CodeSettingsSeedFailed,
				fmt.Sprintf("settings import failed: %v", seedErr), out)
			return
		}
		o.events.Append(ctx, sess.ID, "settings_seed_skipped", string(interfaces.StatusProvisioning),
			fmt.Sprintf("best-effort mode: reporting raw instance without seeded settings: %v", seedErr),
			timeline.ActorProvisioner)
	} else {
		o.events.Append(ctx, sess.ID, "settings_seeded", string(interfaces.StatusProvisioning),
			"runtime configuration imported", timeline.ActorProvisioner)
	}

	o.completeSession(ctx, sess, source, out, mode)
}

// attemptCommand drives the external command under the retry policy: only
// queue conflicts and rate limits are retried, with exponential backoff
// bounded by both the attempt ceiling and the wall-clock budget. Every
// attempt is recorded as a ProvisioningRun row.
func (o *Orchestrator) attemptCommand(ctx context.Context, sess *interfaces.FrontdoorSession, cfg *profileconfig.RuntimeConfig) (*CommandOutput, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.InitialBackoff
	bo.MaxElapsedTime = o.cfg.RetryBudget

	var out *CommandOutput
	attempt := 0
	operation := func() error {
		attempt++
		run := &interfaces.ProvisioningRun{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Status:    interfaces.RunRunning,
			StartedAt: time.Now().UTC(),
		}
		if err := o.store.CreateRun(ctx, run); err != nil {
			return backoff.Permanent(fmt.Errorf("recording provisioning run: %w", err))
		}
		o.events.Append(ctx, sess.ID, "provisioning_attempt", string(interfaces.StatusProvisioning),
			fmt.Sprintf("attempt %d", run.AttemptNumber), timeline.ActorProvisioner)

		raw, err := o.runner.Run(ctx, o.commandEnv(sess, cfg))
		if err != nil {
			run.Status = interfaces.RunFailed
			run.ErrorCode = runErrorCode(err)
			run.ErrorMessage = err.Error()
			if sealErr := o.store.SealRun(ctx, run); sealErr != nil {
				o.log.Error("Failed to seal run", "err", sealErr, "session", sess.ID)
			}

			if isTransient(err) && attempt < o.cfg.MaxAttempts {
				o.log.Warn("Transient provisioning failure, will retry",
					"err", err, "session", sess.ID, "attempt", run.AttemptNumber)
				return err
			}
			return backoff.Permanent(err)
		}

		parsed, err := ParseCommandOutput(raw)
		if err != nil {
			run.Status = interfaces.RunFailed
			run.ErrorCode = CodeMalformedOutput
			run.ErrorMessage = err.Error()
			if sealErr := o.store.SealRun(ctx, run); sealErr != nil {
				o.log.Error("Failed to seal run", "err", sealErr, "session", sess.ID)
			}
			return backoff.Permanent(err)
		}

		run.Status = interfaces.RunSucceeded
		run.InstanceURL = parsed.InstanceURL
		run.VerifyURL = parsed.VerifyURL
		run.ExternalAppID = parsed.AppID
		if err := o.store.SealRun(ctx, run); err != nil {
			o.log.Error("Failed to seal run", "err", err, "session", sess.ID)
		}
		out = parsed
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// commandEnv builds the environment passed to the provisioning command.
// This is the whole of the data contract: no dynamic value ever appears in
// the argument list.
func (o *Orchestrator) commandEnv(sess *interfaces.FrontdoorSession, cfg *profileconfig.RuntimeConfig) map[string]string {
	return map[string]string{
		"FRONTDOOR_SESSION_ID":           sess.ID,
		"FRONTDOOR_SESSION_VERSION":      fmt.Sprintf("%d", sess.Version),
		"FRONTDOOR_WALLET_ADDRESS":       sess.WalletAddress.String(),
		"FRONTDOOR_PROFILE_NAME":         cfg.ProfileName,
		"FRONTDOOR_PROFILE_DOMAIN":       string(cfg.ProfileDomain),
		"FRONTDOOR_CUSTODY_MODE":         string(cfg.CustodyMode),
		"FRONTDOOR_GATEWAY_AUTH_KEY":     cfg.GatewayAuthKey,
		"FRONTDOOR_VERIFICATION_BACKEND": string(cfg.VerificationBackend),
		"FRONTDOOR_CONFIG_JSON":          string(sess.ConfigJSON),
	}
}

// seedSettings imports the session's configuration into the instance as a
// policy-gated action: intent recorded before execution, receipt after,
// then verification through the lineage engine. Returns the verification
// mode observed (empty when lineage is disabled).
func (o *Orchestrator) seedSettings(ctx context.Context, sess *interfaces.FrontdoorSession, cfg *profileconfig.RuntimeConfig, out *CommandOutput) (interfaces.VerificationMode, error) {
	seedCtx, cancel := context.WithTimeout(ctx, o.cfg.SeedTimeout)
	defer cancel()

	if o.lineage == nil {
		return "", o.instance.ImportSettings(seedCtx, out.InstanceURL, cfg.GatewayAuthKey, sess.ConfigJSON)
	}

	intent, err := o.lineage.RecordIntent(ctx, lineage.IntentSpec{
		Wallet:    sess.WalletAddress,
		Workspace: sess.ID,
		Module:    "provisioner",
		Action:    "settings_import",
		Params:    sess.ConfigJSON,
	})
	if err != nil {
		return "", fmt.Errorf("recording settings import intent: %w", err)
	}

	execErr := o.instance.ImportSettings(seedCtx, out.InstanceURL, cfg.GatewayAuthKey, sess.ConfigJSON)
	outcome := "succeeded"
	detail := ""
	if execErr != nil {
		outcome = "failed"
		detail = execErr.Error()
	}

	receipt, err := o.lineage.RecordReceipt(ctx, intent.ID, outcome, detail)
	if err != nil {
		return "", fmt.Errorf("recording settings import receipt: %w", err)
	}

	record, verifyErr := o.lineage.Verify(ctx, receipt.ID, cfg.VerificationBackend)
	if verifyErr != nil {
		o.events.Append(ctx, sess.ID, "verification_failed", string(interfaces.StatusProvisioning),
			verifyErr.Error(), timeline.ActorVerifier)
		if execErr != nil {
			return "", execErr
		}
		return "", verifyErr
	}

	mode := interfaces.VerificationModePrimary
	if record.Source == lineage.SourceFallback {
		mode = interfaces.VerificationModeFallback
	}
	o.events.Append(ctx, sess.ID, "verification_recorded", record.Status,
		fmt.Sprintf("record %s via %s backend", record.ID, record.Source), timeline.ActorVerifier)

	if execErr != nil {
		return mode, execErr
	}
	return mode, nil
}

// completeSession transitions the session to ready under its lock, unless
// it already reached a terminal state (e.g. lazy expiry won the race).
func (o *Orchestrator) completeSession(ctx context.Context, sess *interfaces.FrontdoorSession, source interfaces.ProvisioningSource, out *CommandOutput, mode interfaces.VerificationMode) {
	unlock := o.locker.LockSession(sess.ID)
	defer unlock()

	current, err := o.store.GetSession(ctx, sess.ID)
	if err != nil {
		o.log.Error("Failed to reload session for completion", "err", err, "session", sess.ID)
		return
	}
	if current.Status.Terminal() {
		o.log.Warn("Session reached a terminal state before completion",
			"session", sess.ID, "status", current.Status)
		return
	}

	current.Status = interfaces.StatusReady
	current.ProvisioningSource = source
	current.InstanceURL = out.InstanceURL
	current.VerifyURL = out.VerifyURL
	current.ExternalAppID = out.AppID
	current.VerificationMode = mode
	current.Error = ""
	if err := o.store.UpdateSession(ctx, current); err != nil {
		o.log.Error("Failed to mark session ready", "err", err, "session", sess.ID)
		return
	}

	o.events.Append(ctx, sess.ID, "ready", string(interfaces.StatusReady),
		fmt.Sprintf("instance %s ready via %s", out.InstanceURL, source), timeline.ActorProvisioner)
	o.log.Info("Session ready", "session", sess.ID, "instance", out.InstanceURL, "source", source)
}

// failSession terminally fails the session under its lock.
func (o *Orchestrator) failSession(ctx context.Context, sess *interfaces.FrontdoorSession, source interfaces.ProvisioningSource, code, detail string) {
	o.failSessionWithOutput(ctx, sess, source, code, detail, nil)
}

func (o *Orchestrator) failSessionWithOutput(ctx context.Context, sess *interfaces.FrontdoorSession, source interfaces.ProvisioningSource, code, detail string, out *CommandOutput) {
	unlock := o.locker.LockSession(sess.ID)
	defer unlock()

	current, err := o.store.GetSession(ctx, sess.ID)
	if err != nil {
		o.log.Error("Failed to reload session for failure", "err", err, "session", sess.ID)
		return
	}
	if current.Status.Terminal() {
		return
	}

	current.Status = interfaces.StatusFailed
	current.ProvisioningSource = source
	current.Error = code + ": " + detail
	if out != nil {
		current.InstanceURL = out.InstanceURL
		current.VerifyURL = out.VerifyURL
		current.ExternalAppID = out.AppID
	}
	if err := o.store.UpdateSession(ctx, current); err != nil {
		o.log.Error("Failed to mark session failed", "err", err, "session", sess.ID)
		return
	}

	o.events.Append(ctx, sess.ID, "provisioning_failed", string(interfaces.StatusFailed),
		current.Error, timeline.ActorProvisioner)
	o.log.Warn("Provisioning failed", "session", sess.ID, "code", code, "detail", detail)
}

func isTransient(err error) bool {
	return errors.Is(err, interfaces.ErrQueueConflict) || errors.Is(err, interfaces.ErrRateLimited)
}

func runErrorCode(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrQueueConflict):
		return "queue_conflict"
	case errors.Is(err, interfaces.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, interfaces.ErrEmptyOutput):
		return CodeMalformedOutput
	default:
		return CodeProvisionFailed
	}
}
