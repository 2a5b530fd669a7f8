package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier/internal/clock"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
)

type TrackerParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

// Tracker applies AsyncTask state transitions with a terminal-state guard.
// Every transition is a conditional update keyed on the current status, so a
// completion that races a dispatch-failure handler resolves to exactly one
// terminal state.
type Tracker struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewTracker(p TrackerParams) gendomain.Tracker {
	return &Tracker{
		db:    p.DB,
		log:   p.Log.Named("generation.tracker"),
		clock: p.Clock,
	}
}

func (t *Tracker) MarkProcessing(ctx context.Context, taskID snowflake.ID) error {
	res := t.db.WithContext(ctx).Model(&gendomain.AsyncTask{}).
		Where("id = ? AND status = ?", taskID, gendomain.TaskStatePending).
		Updates(map[string]any{
			"status":     gendomain.TaskStateProcessing,
			"updated_at": t.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return t.transitionRefused(ctx, taskID)
	}
	return nil
}

func (t *Tracker) MarkSuccess(ctx context.Context, taskID snowflake.ID, result *providerdomain.JobResult) error {
	now := t.clock.Now()

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task gendomain.AsyncTask
		if err := tx.First(&task, "id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return gendomain.ErrTaskNotFound
			}
			return err
		}

		res := tx.Model(&gendomain.AsyncTask{}).
			Where("id = ? AND status IN ?", taskID, nonTerminalStates()).
			Updates(map[string]any{
				"status":       gendomain.TaskStateSuccess,
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gendomain.ErrTaskTerminal
		}

		asset := datatypes.JSONMap{
			gendomain.AssetKeyJobID:    result.JobID,
			gendomain.AssetKeyModelURL: result.ModelURL,
			gendomain.AssetKeyFormat:   result.Format,
		}
		if result.PreviewURL != "" {
			asset[gendomain.AssetKeyPreviewURL] = result.PreviewURL
		}

		return tx.Model(&gendomain.Generation{}).
			Where("id = ?", task.GenerationID).
			Updates(map[string]any{
				"asset":      asset,
				"updated_at": now,
			}).Error
	})
}

func (t *Tracker) MarkError(ctx context.Context, taskID snowflake.ID, kind gendomain.ErrorKind, message string) error {
	now := t.clock.Now()

	res := t.db.WithContext(ctx).Model(&gendomain.AsyncTask{}).
		Where("id = ? AND status IN ?", taskID, nonTerminalStates()).
		Updates(map[string]any{
			"status":        gendomain.TaskStateError,
			"error_kind":    kind,
			"error_message": message,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return t.transitionRefused(ctx, taskID)
	}

	t.log.Info("task failed",
		zap.Int64("task_id", int64(taskID)),
		zap.String("kind", string(kind)),
		zap.String("message", message),
	)
	return nil
}

func (t *Tracker) transitionRefused(ctx context.Context, taskID snowflake.ID) error {
	var task gendomain.AsyncTask
	err := t.db.WithContext(ctx).First(&task, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return gendomain.ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return gendomain.ErrTaskTerminal
	}
	// Another writer already moved the row to a compatible non-terminal
	// state; nothing left to do.
	return nil
}

func nonTerminalStates() []gendomain.TaskState {
	return []gendomain.TaskState{gendomain.TaskStatePending, gendomain.TaskStateProcessing}
}
