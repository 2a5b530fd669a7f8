package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
)

// CreateGenerationRequest asks for Count artifacts from one (provider, model)
// pair. OrgID is optional and resolves from the user's membership when zero.
// Params may reference external URLs; they are rewritten to storage keys
// before persistence.
type CreateGenerationRequest struct {
	UserID   snowflake.ID
	OrgID    snowflake.ID
	TopicID  *snowflake.ID
	Provider string
	Model    string
	Prompt   string
	Count    int
	Params   map[string]any
}

// CreateGenerationResult identifies the rows created for one batch request.
// Task completion is observed by polling the read surface, not through this
// response.
type CreateGenerationResult struct {
	BatchID        snowflake.ID   `json:"batch_id"`
	GenerationIDs  []snowflake.ID `json:"generation_ids"`
	TaskIDs        []snowflake.ID `json:"task_ids"`
	ChargedCredits int64          `json:"charged_credits"`
}

// ConvertGenerationRequest re-renders an existing successful generation into
// a different output format, keyed by the source generation's provider job id.
type ConvertGenerationRequest struct {
	UserID             snowflake.ID
	OrgID              snowflake.ID
	SourceGenerationID snowflake.ID
	Provider           string
	Model              string
	Params             map[string]any
}

// ConvertGenerationResult identifies the converted generation and its task.
type ConvertGenerationResult struct {
	BatchID        snowflake.ID `json:"batch_id"`
	GenerationID   snowflake.ID `json:"generation_id"`
	TaskID         snowflake.ID `json:"task_id"`
	ChargedCredits int64        `json:"charged_credits"`
}

// BatchDetail is the read-surface view of a batch with its generations and
// their task states.
type BatchDetail struct {
	Batch       GenerationBatch    `json:"batch"`
	Generations []GenerationDetail `json:"generations"`
}

// GenerationDetail pairs one generation with its task.
type GenerationDetail struct {
	Generation Generation `json:"generation"`
	Task       *AsyncTask `json:"task,omitempty"`
}

// Service is the generation orchestrator.
type Service interface {
	CreateGeneration(ctx context.Context, req CreateGenerationRequest) (*CreateGenerationResult, error)
	ConvertGeneration(ctx context.Context, req ConvertGenerationRequest) (*ConvertGenerationResult, error)

	GetBatch(ctx context.Context, id snowflake.ID) (*BatchDetail, error)
	GetGeneration(ctx context.Context, id snowflake.ID) (*GenerationDetail, error)
	GetTask(ctx context.Context, id snowflake.ID) (*AsyncTask, error)
}

// Tracker owns every AsyncTask state transition after creation. Transitions
// out of a terminal state are refused with ErrTaskTerminal.
type Tracker interface {
	MarkProcessing(ctx context.Context, taskID snowflake.ID) error
	MarkSuccess(ctx context.Context, taskID snowflake.ID, result *providerdomain.JobResult) error
	MarkError(ctx context.Context, taskID snowflake.ID, kind ErrorKind, message string) error
}

// DispatchJob is one unit of background work: submit a provider job for a
// generation and drive its task to a terminal state.
type DispatchJob struct {
	TaskID       snowflake.ID
	GenerationID snowflake.ID
	Provider     string
	Action       string
	Payload      map[string]any
}

// Dispatcher accepts jobs for asynchronous execution. Enqueue fails
// synchronously when the queue is full or the dispatcher is stopped; it never
// blocks the request path.
type Dispatcher interface {
	Enqueue(job DispatchJob) error
}
