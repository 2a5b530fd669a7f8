package service

import (
	"context"
	"testing"
	"time"

	"github.com/atelierhq/atelier/internal/clock"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTracker_TerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	gen := gendomain.Generation{ID: env.node.Generate(), BatchID: env.node.Generate()}
	require.NoError(t, env.db.Create(&gen).Error)
	task := gendomain.AsyncTask{
		ID:           env.node.Generate(),
		GenerationID: gen.ID,
		Status:       gendomain.TaskStatePending,
	}
	require.NoError(t, env.db.Create(&task).Error)

	require.NoError(t, env.tracker.MarkSuccess(ctx, task.ID, &providerdomain.JobResult{
		JobID:    "job-1",
		Format:   "glb",
		ModelURL: "https://files.example.com/a.glb",
	}))

	// Neither a failure nor a re-dispatch may leave the terminal state.
	assert.ErrorIs(t, env.tracker.MarkError(ctx, task.ID, gendomain.ErrorKindTimeout, "late timeout"), gendomain.ErrTaskTerminal)
	assert.ErrorIs(t, env.tracker.MarkProcessing(ctx, task.ID), gendomain.ErrTaskTerminal)

	got, err := env.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, gendomain.TaskStateSuccess, got.Status)
	assert.Nil(t, got.Error())
}

func TestTracker_MarkSuccessAttachesAsset(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	gen := gendomain.Generation{ID: env.node.Generate(), BatchID: env.node.Generate()}
	require.NoError(t, env.db.Create(&gen).Error)
	task := gendomain.AsyncTask{
		ID:           env.node.Generate(),
		GenerationID: gen.ID,
		Status:       gendomain.TaskStateProcessing,
	}
	require.NoError(t, env.db.Create(&task).Error)

	require.NoError(t, env.tracker.MarkSuccess(ctx, task.ID, &providerdomain.JobResult{
		JobID:      "job-2",
		Format:     "obj",
		ModelURL:   "https://files.example.com/b.obj",
		PreviewURL: "https://files.example.com/b.png",
	}))

	var reloaded gendomain.Generation
	require.NoError(t, env.db.First(&reloaded, "id = ?", gen.ID).Error)
	assert.Equal(t, "job-2", reloaded.JobID())
	assert.Equal(t, "obj", reloaded.Asset[gendomain.AssetKeyFormat])
	assert.Equal(t, "https://files.example.com/b.png", reloaded.Asset[gendomain.AssetKeyPreviewURL])

	got, err := env.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestTracker_MarkErrorKinds(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	for _, kind := range []gendomain.ErrorKind{
		gendomain.ErrorKindProvider,
		gendomain.ErrorKindTransport,
		gendomain.ErrorKindTimeout,
		gendomain.ErrorKindInvalidCredentials,
		gendomain.ErrorKindServer,
	} {
		gen := gendomain.Generation{ID: env.node.Generate(), BatchID: env.node.Generate()}
		require.NoError(t, env.db.Create(&gen).Error)
		task := gendomain.AsyncTask{
			ID:           env.node.Generate(),
			GenerationID: gen.ID,
			Status:       gendomain.TaskStatePending,
		}
		require.NoError(t, env.db.Create(&task).Error)

		require.NoError(t, env.tracker.MarkError(ctx, task.ID, kind, "boom"))

		got, err := env.svc.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Error())
		assert.Equal(t, kind, got.Error().Kind)
		assert.Equal(t, "boom", got.Error().Message)
	}
}

func TestTracker_CompletedAtUsesClock(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	frozen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	tracker := NewTracker(TrackerParams{
		DB:    env.db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(frozen),
	})

	gen := gendomain.Generation{ID: env.node.Generate(), BatchID: env.node.Generate()}
	require.NoError(t, env.db.Create(&gen).Error)
	task := gendomain.AsyncTask{
		ID:           env.node.Generate(),
		GenerationID: gen.ID,
		Status:       gendomain.TaskStateProcessing,
	}
	require.NoError(t, env.db.Create(&task).Error)

	require.NoError(t, tracker.MarkError(ctx, task.ID, gendomain.ErrorKindTimeout, "deadline"))

	got, err := env.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(frozen))
}

func TestTracker_UnknownTask(t *testing.T) {
	env := newTestEnv(t, 10)
	assert.ErrorIs(t, env.tracker.MarkProcessing(context.Background(), env.node.Generate()), gendomain.ErrTaskNotFound)
}
