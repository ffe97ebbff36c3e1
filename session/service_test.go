package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrail/frontdoor/cryptoutils"
	"github.com/agentrail/frontdoor/interfaces"
	"github.com/agentrail/frontdoor/profileconfig"
	"github.com/agentrail/frontdoor/storage"
	"github.com/agentrail/frontdoor/timeline"
)

type testEnv struct {
	svc    *Service
	store  *storage.SQLiteStore
	key    *ecdsa.PrivateKey
	wallet interfaces.WalletAddress
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "frontdoor.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := cryptoutils.WalletAddressOf(key)
	require.NoError(t, err)

	svc := New(store, timeline.NewLog(store, logger), Config{}, logger)
	return &testEnv{svc: svc, store: store, key: key, wallet: wallet}
}

func validConfig() *profileconfig.RuntimeConfig {
	return &profileconfig.RuntimeConfig{
		ProfileName:         "research assistant",
		CustodyMode:         profileconfig.CustodyOperatorWallet,
		GatewayAuthKey:      "gw-key",
		VerificationBackend: profileconfig.BackendPrimary,
		AcceptTerms:         true,
	}
}

// recordingProvisioner captures the session handed off after verify.
type recordingProvisioner struct {
	mu       sync.Mutex
	sessions []*interfaces.FrontdoorSession
}

func (p *recordingProvisioner) Provision(sess *interfaces.FrontdoorSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, sess)
}

func (p *recordingProvisioner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func TestIssueCreatesChallengeSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	assert.Equal(t, interfaces.StatusChallengeIssued, sess.Status)
	assert.Equal(t, int64(1), sess.Version)
	assert.Contains(t, sess.ChallengeMessage, env.wallet.String())
	assert.Contains(t, sess.ChallengeMessage, "Chain ID: 1")
	assert.Contains(t, sess.ChallengeMessage, "Session: "+sess.ID)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))

	events, err := env.svc.events.ListSince(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "challenge_issued", events[0].EventType)
}

func TestIssueAllocatesIncreasingVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)
	second, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, int64(2), second.Version)
	assert.NotEqual(t, first.ChallengeMessage, second.ChallengeMessage)
}

func TestVerifySuccessStartsProvisioning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prov := &recordingProvisioner{}
	env.svc.SetProvisioner(prov)

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)

	verified, err := env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusProvisioning, verified.Status)
	assert.Equal(t, 1, prov.count())

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusProvisioning, stored.Status)
	assert.NotEmpty(t, stored.ConfigJSON)

	events, err := env.svc.events.ListSince(ctx, sess.ID, 0)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{"challenge_issued", "signature_verified", "provisioning_started"}, types)
}

func TestVerifyReplayIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	require.NoError(t, err)

	// The nonce is consumed; the same signature cannot verify twice.
	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSessionAlreadyVerified)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), otherKey)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSignatureMismatch)

	// The failure is terminal: a correct signature no longer helps.
	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusVerificationFailed, stored.Status)

	goodSig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)
	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, goodSig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSessionAlreadyVerified)
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	tampered := sess.ChallengeMessage + " "
	sig, err := cryptoutils.PersonalSign([]byte(tampered), env.key)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, tampered, sig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrChallengeMismatch)
}

func TestVerifyRejectsForeignWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherWallet, err := cryptoutils.WalletAddressOf(otherKey)
	require.NoError(t, err)
	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), otherKey)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, sess.ID, otherWallet, sess.ChallengeMessage, sig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSignatureMismatch)
}

func TestVerifyInvalidConfigConsumesNonce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)

	cfg := validConfig()
	cfg.AcceptTerms = false
	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, cfg)

	var fieldErrs profileconfig.FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Equal(t, "accept_terms", fieldErrs[0].Field)

	// Valid signature, invalid config: the challenge is still spent.
	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusVerificationFailed, stored.Status)

	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSessionAlreadyVerified)
}

func TestVerifyUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Verify(context.Background(), "missing", env.wallet, "msg", make([]byte, 65), validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	// Move the clock past the challenge window.
	env.svc.now = func() time.Time { return time.Now().Add(DefaultChallengeTTL + time.Minute) }

	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)
	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	assert.ErrorIs(t, err, interfaces.ErrSessionExpired)

	loaded, err := env.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusExpired, loaded.Status)

	events, err := env.svc.events.ListSince(ctx, sess.ID, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, "session_expired", last.EventType)
}

func TestExpiryDoesNotTouchTerminalSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	stored, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	stored.Status = interfaces.StatusReady
	stored.InstanceURL = "http://10.0.0.5:3000"
	require.NoError(t, env.store.UpdateSession(ctx, stored))

	env.svc.now = func() time.Time { return time.Now().Add(DefaultChallengeTTL + time.Minute) }

	loaded, err := env.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReady, loaded.Status)
}

func TestListAppliesExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)
	_, err = env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)

	env.svc.now = func() time.Time { return time.Now().Add(DefaultChallengeTTL + time.Minute) }

	sessions, err := env.svc.List(ctx, env.wallet)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, sess := range sessions {
		assert.Equal(t, interfaces.StatusExpired, sess.Status)
	}
	assert.Equal(t, int64(2), sessions[0].Version)
}

func TestConcurrentVerifyConsumesChallengeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prov := &recordingProvisioner{}
	env.svc.SetProvisioner(prov)

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)
	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, interfaces.ErrSessionAlreadyVerified)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, prov.count())
}

func TestConcurrentGetDuringVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.SetProvisioner(&recordingProvisioner{})

	sess, err := env.svc.Issue(ctx, env.wallet, 0)
	require.NoError(t, err)
	sig, err := cryptoutils.PersonalSign([]byte(sess.ChallengeMessage), env.key)
	require.NoError(t, err)

	done := make(chan struct{})
	getErrs := make(chan error, 16)
	go func() {
		defer close(done)
		for i := 0; i < 16; i++ {
			_, err := env.svc.Get(ctx, sess.ID)
			getErrs <- err
		}
	}()

	_, err = env.svc.Verify(ctx, sess.ID, env.wallet, sess.ChallengeMessage, sig, validConfig())
	require.NoError(t, err)
	<-done
	close(getErrs)
	for err := range getErrs {
		assert.NoError(t, err)
	}

	final, err := env.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, interfaces.StatusChallengeIssued, final.Status)
}
