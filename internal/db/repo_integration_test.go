//go:build integration

package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-triage/pkg"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/db
func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	conn, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.PingContext(ctx))
	require.NoError(t, Migrate(ctx, conn))
	return NewRepository(conn)
}

// newSession opens a session, stores one patient message and, when band is
// set, a summary.  The session is closed on cleanup so it leaves the queue.
func newSession(t *testing.T, r *Repository, band pkg.RiskBand, peak int) string {
	t.Helper()
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, 50, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.CloseSession(context.Background(), sess.ID) })

	require.NoError(t, r.CreateMessage(ctx, &pkg.Message{SessionID: sess.ID, Role: pkg.RolePatient, Content: "hello"}))
	if band != "" {
		require.NoError(t, r.UpsertSummary(ctx, &pkg.Summary{
			SessionID:     sess.ID,
			KeyPoints:     []string{"point"},
			CoveredTopics: []string{"onset"},
			PeakRiskScore: &peak,
			RiskBand:      band,
			SafetyConcern: band == pkg.BandHigh,
			UpdatedAt:     time.Now(),
		}))
	}
	// Separate last-message timestamps within a band.
	time.Sleep(20 * time.Millisecond)
	return sess.ID
}

func TestRepository_ListQueueOrdersByBandThenRecency(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	olderLow := newSession(t, r, pkg.BandLow, 10)
	unassessed := newSession(t, r, "", 0)
	high := newSession(t, r, pkg.BandHigh, 80)
	newerLow := newSession(t, r, pkg.BandLow, 20)
	moderate := newSession(t, r, pkg.BandModerate, 50)

	entries, err := r.ListQueue(ctx, 10000)
	require.NoError(t, err)

	mine := map[string]bool{olderLow: true, unassessed: true, high: true, newerLow: true, moderate: true}
	var got []string
	for _, e := range entries {
		if mine[e.SessionID] {
			got = append(got, e.SessionID)
		}
		if e.SessionID == high {
			assert.True(t, e.SafetyConcern)
			require.NotNil(t, e.PeakRiskScore)
			assert.Equal(t, 80, *e.PeakRiskScore)
		}
		if e.SessionID == unassessed {
			assert.Equal(t, pkg.BandUnassessed, e.RiskBand)
			assert.Nil(t, e.PeakRiskScore)
		}
	}
	assert.Equal(t, []string{high, moderate, newerLow, olderLow, unassessed}, got)
}

func TestRepository_ClosedSessionRejectsWrites(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	id := newSession(t, r, pkg.BandLow, 10)

	require.NoError(t, r.CloseSession(ctx, id))

	err := r.CreateMessage(ctx, &pkg.Message{SessionID: id, Role: pkg.RolePatient, Content: "still there?"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, r.CloseSession(ctx, id), ErrSessionClosed)

	entries, err := r.ListQueue(ctx, 10000)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, id, e.SessionID)
	}
}

func TestRepository_UnknownSession(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	_, err := r.GetSession(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.CloseSession(ctx, "00000000-0000-0000-0000-000000000000"), ErrSessionNotFound)

	sum, err := r.GetSummary(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestRepository_TranscriptRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	id := newSession(t, r, "", 0)

	score := 80
	require.NoError(t, r.CreateMessage(ctx, &pkg.Message{
		SessionID: id, Role: pkg.RoleAssistant, Content: "Are you safe right now?",
		RiskScore: &score, Analysis: "safety concern", Source: pkg.SourceFallback,
	}))

	transcript, err := r.GetTranscript(ctx, id)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, pkg.RolePatient, transcript[0].Role)
	require.NotNil(t, transcript[1].RiskScore)
	assert.Equal(t, 80, *transcript[1].RiskScore)
	assert.Equal(t, pkg.SourceFallback, transcript[1].Source)

	n, err := r.CountPatientMessages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
