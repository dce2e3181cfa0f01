package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTokenStorageRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tokens, err := NewTokenStorage(db.GetDB(), logger.NewNop())
	require.NoError(t, err)

	// Unprovisioned terminal reads as empty, not as an error
	token, err := tokens.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, tokens.SetToken(ctx, "  tok-1  "))
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token, "tokens are stored trimmed")

	// Replacing is an upsert
	require.NoError(t, tokens.SetToken(ctx, "tok-2"))
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, tokens.Clear(ctx))
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenStorageRejectsEmptyToken(t *testing.T) {
	db := openTestDB(t)

	tokens, err := NewTokenStorage(db.GetDB(), logger.NewNop())
	require.NoError(t, err)

	assert.Error(t, tokens.SetToken(context.Background(), "   "))
}

func TestEventJournalAppendAndRecent(t *testing.T) {
	db := openTestDB(t)

	journal, err := NewEventJournal(db.GetDB(), 100, logger.NewNop())
	require.NoError(t, err)

	journal.Append("session_created", `{"session_id":"s1"}`)
	journal.Append("heartbeat", `{}`)

	records, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, "heartbeat", records[0].EventName)
	assert.Equal(t, "session_created", records[1].EventName)
	assert.Equal(t, `{"session_id":"s1"}`, records[1].Raw)
	assert.False(t, records[0].ReceivedAt.IsZero())
}

func TestEventJournalPrunesBeyondMaxRows(t *testing.T) {
	db := openTestDB(t)

	journal, err := NewEventJournal(db.GetDB(), 5, logger.NewNop())
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		journal.Append("heartbeat", fmt.Sprintf(`{"n":%d}`, i))
	}

	records, err := journal.Recent(100)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, `{"n":11}`, records[0].Raw, "only the newest rows survive pruning")
	assert.Equal(t, `{"n":7}`, records[4].Raw)
}
