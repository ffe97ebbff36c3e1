package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrail/frontdoor/interfaces"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "frontdoor.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSession(t *testing.T, walletHex string) *interfaces.FrontdoorSession {
	t.Helper()
	wallet, err := interfaces.NewWalletAddressFromHex(walletHex)
	require.NoError(t, err)

	now := time.Now().UTC()
	return &interfaces.FrontdoorSession{
		ID:                 uuid.NewString(),
		WalletAddress:      wallet,
		Status:             interfaces.StatusChallengeIssued,
		ChallengeMessage:   "sign this",
		ProvisioningSource: interfaces.SourceUnknown,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(15 * time.Minute),
	}
}

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestSessionVersionsAreGaplessPerWallet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		sess := newTestSession(t, walletA)
		require.NoError(t, store.CreateSession(ctx, sess))
		assert.Equal(t, int64(i), sess.Version)
	}

	// A different wallet starts its own sequence at 1.
	other := newTestSession(t, walletB)
	require.NoError(t, store.CreateSession(ctx, other))
	assert.Equal(t, int64(1), other.Version)

	wallet, err := interfaces.NewWalletAddressFromHex(walletA)
	require.NoError(t, err)
	sessions, err := store.ListSessionsByWallet(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	// Newest version first.
	assert.Equal(t, int64(3), sessions[0].Version)
	assert.Equal(t, int64(2), sessions[1].Version)
	assert.Equal(t, int64(1), sessions[2].Version)
}

func TestGetAndUpdateSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(t, walletA)
	require.NoError(t, store.CreateSession(ctx, sess))

	loaded, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, interfaces.StatusChallengeIssued, loaded.Status)
	assert.True(t, loaded.WalletAddress.Equal(sess.WalletAddress))
	assert.Nil(t, loaded.ConfigJSON)

	loaded.Status = interfaces.StatusReady
	loaded.ConfigJSON = []byte(`{"profile_name":"agent"}`)
	loaded.InstanceURL = "http://10.0.0.5:3000"
	loaded.VerificationMode = interfaces.VerificationModePrimary
	require.NoError(t, store.UpdateSession(ctx, loaded))

	reloaded, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReady, reloaded.Status)
	assert.Equal(t, "http://10.0.0.5:3000", reloaded.InstanceURL)
	assert.Equal(t, interfaces.VerificationModePrimary, reloaded.VerificationMode)
	assert.JSONEq(t, `{"profile_name":"agent"}`, string(reloaded.ConfigJSON))
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	sess := newTestSession(t, walletA)
	err = store.UpdateSession(context.Background(), sess)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestRunAttemptNumbersAndSupersede(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(t, walletA)
	require.NoError(t, store.CreateSession(ctx, sess))

	first := &interfaces.ProvisioningRun{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Status:    interfaces.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, first))
	assert.Equal(t, int64(1), first.AttemptNumber)

	// Creating a second run while the first is in flight supersedes it.
	second := &interfaces.ProvisioningRun{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Status:    interfaces.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, second))
	assert.Equal(t, int64(2), second.AttemptNumber)

	second.Status = interfaces.RunSucceeded
	second.InstanceURL = "http://10.0.0.5:3000"
	require.NoError(t, store.SealRun(ctx, second))

	runs, err := store.ListRuns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, interfaces.RunSuperseded, runs[0].Status)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Equal(t, interfaces.RunSucceeded, runs[1].Status)
	assert.Equal(t, "http://10.0.0.5:3000", runs[1].InstanceURL)
	require.NotNil(t, runs[1].CompletedAt)
}

func TestTimelineSequenceIsGaplessPerSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessA := newTestSession(t, walletA)
	require.NoError(t, store.CreateSession(ctx, sessA))
	sessB := newTestSession(t, walletA)
	require.NoError(t, store.CreateSession(ctx, sessB))

	for i := 0; i < 3; i++ {
		seq, err := store.AppendTimelineEvent(ctx, &interfaces.TimelineEvent{
			SessionID: sessA.ID,
			EventType: "event",
			Status:    "challenge_issued",
			Actor:     "system",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}

	// Sequences are per session, not global.
	seq, err := store.AppendTimelineEvent(ctx, &interfaces.TimelineEvent{
		SessionID: sessB.ID,
		EventType: "event",
		Status:    "challenge_issued",
		Actor:     "system",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestConcurrentSessionVersionAllocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 16
	sessions := make([]*interfaces.FrontdoorSession, n)
	for i := range sessions {
		sessions[i] = newTestSession(t, walletA)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *interfaces.FrontdoorSession) {
			defer wg.Done()
			errs[i] = store.CreateSession(ctx, sess)
		}(i, sess)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i, sess := range sessions {
		require.NoError(t, errs[i])
		assert.False(t, seen[sess.Version], "version %d allocated twice", sess.Version)
		seen[sess.Version] = true
	}
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

func TestConcurrentTimelineSeqAllocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(t, walletA)
	require.NoError(t, store.CreateSession(ctx, sess))

	const n = 16
	seqs := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seqs[i], errs[i] = store.AppendTimelineEvent(ctx, &interfaces.TimelineEvent{
				SessionID: sess.ID,
				EventType: "event",
				Status:    "provisioning",
				Actor:     "system",
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[seqs[i]], "seq %d allocated twice", seqs[i])
		seen[seqs[i]] = true
	}
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "seq %d missing", v)
	}
}

func TestSealRunUnknownID(t *testing.T) {
	store := newTestStore(t)

	run := &interfaces.ProvisioningRun{
		ID:     uuid.NewString(),
		Status: interfaces.RunSucceeded,
	}
	err := store.SealRun(context.Background(), run)
	require.ErrorIs(t, err, interfaces.ErrRunNotFound)
}

func TestListTimelineSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(t, walletA)
	require.NoError(t, store.CreateSession(ctx, sess))

	types := []string{"challenge_issued", "signature_verified", "ready"}
	for _, eventType := range types {
		_, err := store.AppendTimelineEvent(ctx, &interfaces.TimelineEvent{
			SessionID: sess.ID,
			EventType: eventType,
			Status:    "x",
			Actor:     "system",
		})
		require.NoError(t, err)
	}

	all, err := store.ListTimelineSince(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "challenge_issued", all[0].EventType)
	assert.Equal(t, int64(1), all[0].SeqID)

	tail, err := store.ListTimelineSince(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "ready", tail[0].EventType)

	empty, err := store.ListTimelineSince(ctx, sess.ID, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestArtifactLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wallet, err := interfaces.NewWalletAddressFromHex(walletA)
	require.NoError(t, err)

	link := &interfaces.VerificationArtifactLink{
		ID:                   uuid.NewString(),
		WalletAddress:        wallet,
		Workspace:            "sess-1",
		Module:               "provisioner",
		IntentID:             "intent-1",
		ExecutionReceiptID:   "receipt-1",
		VerificationRecordID: "record-1",
		ChainHash:            "abcd",
		Status:               "verified",
	}
	require.NoError(t, store.InsertArtifactLink(ctx, link))

	links, err := store.ListArtifactLinks(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "intent-1", links[0].IntentID)
	assert.Equal(t, "record-1", links[0].VerificationRecordID)
	assert.True(t, links[0].WalletAddress.Equal(wallet))
	assert.False(t, links[0].CreatedAt.IsZero())
}
