// Package domain contains the batch, generation and async task models plus
// the orchestration contracts built on top of them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TaskState is the lifecycle state of one dispatched unit of work.
// pending and processing are transient; success and error are terminal.
type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateProcessing TaskState = "processing"
	TaskStateSuccess    TaskState = "success"
	TaskStateError      TaskState = "error"
)

// Terminal reports whether no further transition is permitted.
func (s TaskState) Terminal() bool {
	return s == TaskStateSuccess || s == TaskStateError
}

// ErrorKind classifies a terminal task failure. InvalidCredentials is kept
// distinct so the surface can tell users to fix their API key instead of
// showing a generic failure.
type ErrorKind string

const (
	ErrorKindProvider           ErrorKind = "provider_error"
	ErrorKindTransport          ErrorKind = "transport_error"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindInvalidCredentials ErrorKind = "invalid_credentials"
	ErrorKindServer             ErrorKind = "server_error"
)

// TaskError is the structured failure payload attached to an errored task.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// GenerationBatch is one user request that fans out into N generations.
// Config holds the serialized request parameters; external URLs are rewritten
// to internal storage keys before the row is persisted.
type GenerationBatch struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"not null;index" json:"org_id"`
	UserID    snowflake.ID      `gorm:"not null;index" json:"user_id"`
	TopicID   *snowflake.ID     `gorm:"index" json:"topic_id,omitempty"`
	Provider  string            `gorm:"type:text;not null" json:"provider"`
	Model     string            `gorm:"type:text;not null" json:"model"`
	Prompt    string            `gorm:"type:text" json:"prompt"`
	Config    datatypes.JSONMap `gorm:"type:jsonb" json:"config"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (GenerationBatch) TableName() string { return "generation_batches" }

// Asset key names used inside Generation.Asset.
const (
	AssetKeyModelURL   = "model_url"
	AssetKeyPreviewURL = "preview_url"
	AssetKeyFormat     = "format"
	AssetKeyJobID      = "job_id"
)

// Generation is one artifact within a batch. Asset stays nil until the
// owning task succeeds, then carries the normalized provider result.
type Generation struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	BatchID   snowflake.ID      `gorm:"not null;index" json:"batch_id"`
	Seed      *int64            `json:"seed,omitempty"`
	TaskID    *snowflake.ID     `gorm:"index" json:"task_id,omitempty"`
	Asset     datatypes.JSONMap `gorm:"type:jsonb" json:"asset,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Generation) TableName() string { return "generations" }

// JobID returns the provider job id recorded on the asset, if any.
func (g Generation) JobID() string {
	if g.Asset == nil {
		return ""
	}
	id, _ := g.Asset[AssetKeyJobID].(string)
	return id
}

// AsyncTask is the durable state machine for one dispatched job. It is
// created pending inside the same transaction as its Generation and mutated
// only by the dispatcher's completion path or the orchestrator's
// dispatch-failure handler.
type AsyncTask struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	GenerationID snowflake.ID `gorm:"not null;index" json:"generation_id"`
	Status       TaskState    `gorm:"type:text;not null;default:'pending';index" json:"status"`
	ErrorKind    *ErrorKind   `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorMessage *string      `gorm:"type:text" json:"error_message,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (AsyncTask) TableName() string { return "async_tasks" }

// Error returns the structured failure payload, or nil for non-errored tasks.
func (t AsyncTask) Error() *TaskError {
	if t.Status != TaskStateError || t.ErrorKind == nil {
		return nil
	}
	msg := ""
	if t.ErrorMessage != nil {
		msg = *t.ErrorMessage
	}
	return &TaskError{Kind: *t.ErrorKind, Message: msg}
}
