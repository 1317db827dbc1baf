package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/database"
	"github.com/openfunnel/maestro/pkg/models"
)

func checkpointState(goal string) *models.SessionState {
	state := models.NewSessionState(15)
	state.BeginTurn(goal)
	state.FinalResponse = "done"
	return state
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t.Run("load before save", func(t *testing.T) {
		_, err := store.Load(ctx, "t1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and load round trip", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "t1", checkpointState("create a campaign")))

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "create a campaign", loaded.UserGoal)
		assert.Equal(t, "done", loaded.FinalResponse)
		require.Len(t, loaded.Messages, 1)
	})

	t.Run("save replaces", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "t1", checkpointState("second goal")))
		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "second goal", loaded.UserGoal)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "t2", checkpointState("x")))
		infos, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "t2"))
		_, err := store.Load(ctx, "t2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete older than", func(t *testing.T) {
		removed, err := store.DeleteOlderThan(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Zero(t, removed)

		removed, err = store.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.EqualValues(t, 1, removed)
		_, err = store.Load(ctx, "t1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := checkpointState("original")
	require.NoError(t, store.Save(ctx, "t1", state))

	// Mutating the live state must not leak into the snapshot.
	state.UserGoal = "mutated"
	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "original", loaded.UserGoal)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewClient(ctx, database.Config{
		Path: filepath.Join(t.TempDir(), "checkpoints.db"),
	}, database.CheckpointMigrations)
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLiteStore(db)

	t.Run("load before save", func(t *testing.T) {
		_, err := store.Load(ctx, "t1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and load round trip", func(t *testing.T) {
		state := checkpointState("send the emails")
		state.SharedResultSets["campaign"] = []models.Record{{"Id": "701A", "Name": "Spring Launch"}}
		require.NoError(t, store.Save(ctx, "t1", state))

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "send the emails", loaded.UserGoal)
		require.Len(t, loaded.SharedResultSets["campaign"], 1)
		assert.Equal(t, "701A", loaded.SharedResultSets["campaign"][0].StringField("Id"))
	})

	t.Run("upsert on conflict", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "t1", checkpointState("revised goal")))
		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "revised goal", loaded.UserGoal)

		infos, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "t1"))
		_, err := store.Load(ctx, "t1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStoreInterruptSurvivesCheckpoint(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewClient(ctx, database.Config{
		Path: filepath.Join(t.TempDir(), "checkpoints.db"),
	}, database.CheckpointMigrations)
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLiteStore(db)
	state := checkpointState("save the template")
	state.ActiveWorkflow = "save_template_workflow"
	state.Interrupt = &models.InterruptState{
		Node: "save_template_workflow",
		Kind: models.InterruptConfirmation,
		Payload: map[string]any{
			"type":    "confirmation",
			"message": "Should I link it?",
		},
	}
	require.NoError(t, store.Save(ctx, "t1", state))

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Interrupt)
	assert.Equal(t, models.InterruptConfirmation, loaded.Interrupt.Kind)
	assert.Equal(t, "confirmation", loaded.Interrupt.Payload["type"])
	assert.Equal(t, "save_template_workflow", loaded.ActiveWorkflow)
}
