package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
	"github.com/atelierhq/atelier/internal/storage"
)

const maxBatchCount = 10

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Credit     creditdomain.Service
	Pricing    pricingdomain.Service
	Dispatcher gendomain.Dispatcher
	Resolver   storage.Resolver
	Tracker    gendomain.Tracker
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	credit     creditdomain.Service
	pricing    pricingdomain.Service
	dispatcher gendomain.Dispatcher
	resolver   storage.Resolver
	tracker    gendomain.Tracker
}

func NewService(p Params) gendomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("generation.service"),
		genID:      p.GenID,
		credit:     p.Credit,
		pricing:    p.Pricing,
		dispatcher: p.Dispatcher,
		resolver:   p.Resolver,
		tracker:    p.Tracker,
	}
}

func (s *Service) CreateGeneration(ctx context.Context, req gendomain.CreateGenerationRequest) (*gendomain.CreateGenerationResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	count := req.Count
	if count == 0 {
		count = 1
	}

	unitPrice, err := s.pricing.Resolve(ctx, req.Provider, req.Model)
	if err != nil {
		return nil, err
	}
	requiredCredits := unitPrice * int64(count)

	allowance, err := s.credit.EnsureAllowance(ctx, creditdomain.EnsureAllowanceRequest{
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		RequiredCredits: requiredCredits,
	})
	if err != nil {
		return nil, err
	}
	orgID := allowance.Credit.OrgID

	cfg, rewritten := rewriteConfig(ctx, s.resolver, req.Params)
	if !rewritten {
		s.log.Warn("config rewrite incomplete, keeping original request",
			zap.Int64("org_id", int64(orgID)),
		)
	}

	batch := gendomain.GenerationBatch{
		ID:       s.genID.Generate(),
		OrgID:    orgID,
		UserID:   req.UserID,
		TopicID:  req.TopicID,
		Provider: req.Provider,
		Model:    req.Model,
		Prompt:   req.Prompt,
		Config:   datatypes.JSONMap(cfg),
	}

	generations := make([]gendomain.Generation, 0, count)
	tasks := make([]gendomain.AsyncTask, 0, count)
	for i := 0; i < count; i++ {
		gen := gendomain.Generation{
			ID:      s.genID.Generate(),
			BatchID: batch.ID,
		}
		task := gendomain.AsyncTask{
			ID:           s.genID.Generate(),
			GenerationID: gen.ID,
			Status:       gendomain.TaskStatePending,
		}
		gen.TaskID = &task.ID
		generations = append(generations, gen)
		tasks = append(tasks, task)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}
		if err := tx.Create(&generations).Error; err != nil {
			return err
		}
		return tx.Create(&tasks).Error
	})
	if err != nil {
		return nil, err
	}

	charge, err := s.credit.Charge(ctx, creditdomain.ChargeRequest{
		UserID:  req.UserID,
		OrgID:   orgID,
		Credits: requiredCredits,
		Usage: creditdomain.ChargeUsage{
			UsageType: creditdomain.UsageTypeThreeD,
			Model:     req.Model,
			Provider:  req.Provider,
			Count:     int64(count),
			Metadata:  map[string]any{"batch_id": batch.ID.String()},
		},
		Reason:         creditdomain.ReasonUsage,
		IdempotencyKey: fmt.Sprintf("generation-batch-%d", batch.ID),
		Context:        allowance,
	})
	if err != nil {
		return nil, err
	}

	s.dispatchBatch(ctx, batch, generations, tasks)

	result := &gendomain.CreateGenerationResult{
		BatchID:        batch.ID,
		ChargedCredits: charge.Usage.CreditCost,
	}
	for i := range generations {
		result.GenerationIDs = append(result.GenerationIDs, generations[i].ID)
		result.TaskIDs = append(result.TaskIDs, tasks[i].ID)
	}
	return result, nil
}

func (s *Service) ConvertGeneration(ctx context.Context, req gendomain.ConvertGenerationRequest) (*gendomain.ConvertGenerationResult, error) {
	if req.UserID == 0 || strings.TrimSpace(req.Provider) == "" || strings.TrimSpace(req.Model) == "" {
		return nil, gendomain.ErrInvalidRequest
	}

	var source gendomain.Generation
	if err := s.db.WithContext(ctx).First(&source, "id = ?", req.SourceGenerationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gendomain.ErrGenerationNotFound
		}
		return nil, err
	}
	sourceJobID := source.JobID()
	if sourceJobID == "" {
		return nil, fmt.Errorf("%w: source generation has no provider job id", gendomain.ErrInvalidRequest)
	}

	unitPrice, err := s.pricing.Resolve(ctx, req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	allowance, err := s.credit.EnsureAllowance(ctx, creditdomain.EnsureAllowanceRequest{
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		RequiredCredits: unitPrice,
	})
	if err != nil {
		return nil, err
	}
	orgID := allowance.Credit.OrgID

	cfg, rewritten := rewriteConfig(ctx, s.resolver, req.Params)
	if !rewritten {
		s.log.Warn("config rewrite incomplete, keeping original request",
			zap.Int64("org_id", int64(orgID)),
		)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["original_task_id"] = sourceJobID

	batch := gendomain.GenerationBatch{
		ID:       s.genID.Generate(),
		OrgID:    orgID,
		UserID:   req.UserID,
		Provider: req.Provider,
		Model:    req.Model,
		Config:   datatypes.JSONMap(cfg),
	}
	task := gendomain.AsyncTask{
		ID:     s.genID.Generate(),
		Status: gendomain.TaskStatePending,
	}
	gen := gendomain.Generation{
		ID:      s.genID.Generate(),
		BatchID: batch.ID,
		TaskID:  &task.ID,
	}
	task.GenerationID = gen.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}
		if err := tx.Create(&gen).Error; err != nil {
			return err
		}
		return tx.Create(&task).Error
	})
	if err != nil {
		return nil, err
	}

	charge, err := s.credit.Charge(ctx, creditdomain.ChargeRequest{
		UserID:  req.UserID,
		OrgID:   orgID,
		Credits: unitPrice,
		Usage: creditdomain.ChargeUsage{
			UsageType: creditdomain.UsageTypeThreeD,
			Model:     req.Model,
			Provider:  req.Provider,
			Count:     1,
			Metadata: map[string]any{
				"batch_id":             batch.ID.String(),
				"source_generation_id": source.ID.String(),
			},
		},
		Reason:         creditdomain.ReasonUsage,
		IdempotencyKey: fmt.Sprintf("generation-batch-%d", batch.ID),
		Context:        allowance,
	})
	if err != nil {
		return nil, err
	}

	s.dispatchBatch(ctx, batch, []gendomain.Generation{gen}, []gendomain.AsyncTask{task})

	return &gendomain.ConvertGenerationResult{
		BatchID:        batch.ID,
		GenerationID:   gen.ID,
		TaskID:         task.ID,
		ChargedCredits: charge.Usage.CreditCost,
	}, nil
}

// dispatchBatch hands each generation to the background dispatcher. A job
// that cannot be accepted is marked error/server_error immediately; credits
// already charged for the batch stay charged.
func (s *Service) dispatchBatch(ctx context.Context, batch gendomain.GenerationBatch, generations []gendomain.Generation, tasks []gendomain.AsyncTask) {
	for i := range generations {
		job := gendomain.DispatchJob{
			TaskID:       tasks[i].ID,
			GenerationID: generations[i].ID,
			Provider:     batch.Provider,
			Action:       submitAction(batch.Provider, batch.Config),
			Payload:      buildPayload(batch),
		}
		if err := s.dispatcher.Enqueue(job); err != nil {
			s.log.Error("dispatch enqueue failed",
				zap.Int64("task_id", int64(tasks[i].ID)),
				zap.Error(err),
			)
			if markErr := s.tracker.MarkError(ctx, tasks[i].ID, gendomain.ErrorKindServer, "dispatch unavailable"); markErr != nil {
				s.log.Error("failed to mark task after dispatch failure",
					zap.Int64("task_id", int64(tasks[i].ID)),
					zap.Error(markErr),
				)
			}
		}
	}
}

func (s *Service) GetBatch(ctx context.Context, id snowflake.ID) (*gendomain.BatchDetail, error) {
	var batch gendomain.GenerationBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gendomain.ErrBatchNotFound
		}
		return nil, err
	}

	var generations []gendomain.Generation
	if err := s.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("id ASC").
		Find(&generations).Error; err != nil {
		return nil, err
	}

	detail := &gendomain.BatchDetail{Batch: batch}
	for i := range generations {
		gd := gendomain.GenerationDetail{Generation: generations[i]}
		if generations[i].TaskID != nil {
			var task gendomain.AsyncTask
			if err := s.db.WithContext(ctx).First(&task, "id = ?", *generations[i].TaskID).Error; err == nil {
				gd.Task = &task
			}
		}
		detail.Generations = append(detail.Generations, gd)
	}
	return detail, nil
}

func (s *Service) GetGeneration(ctx context.Context, id snowflake.ID) (*gendomain.GenerationDetail, error) {
	var gen gendomain.Generation
	if err := s.db.WithContext(ctx).First(&gen, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gendomain.ErrGenerationNotFound
		}
		return nil, err
	}

	detail := &gendomain.GenerationDetail{Generation: gen}
	if gen.TaskID != nil {
		var task gendomain.AsyncTask
		if err := s.db.WithContext(ctx).First(&task, "id = ?", *gen.TaskID).Error; err == nil {
			detail.Task = &task
		}
	}
	return detail, nil
}

func (s *Service) GetTask(ctx context.Context, id snowflake.ID) (*gendomain.AsyncTask, error) {
	var task gendomain.AsyncTask
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gendomain.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func validateCreate(req gendomain.CreateGenerationRequest) error {
	if req.UserID == 0 {
		return gendomain.ErrInvalidRequest
	}
	if strings.TrimSpace(req.Provider) == "" || strings.TrimSpace(req.Model) == "" {
		return gendomain.ErrInvalidRequest
	}
	if req.Count < 0 || req.Count > maxBatchCount {
		return gendomain.ErrInvalidRequest
	}
	if strings.TrimSpace(req.Prompt) == "" && !hasImageReference(req.Params) {
		return fmt.Errorf("%w: prompt or image reference required", gendomain.ErrInvalidRequest)
	}
	return nil
}

func hasImageReference(params map[string]any) bool {
	for _, key := range []string{"image_url", "image", "file"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return true
			}
			if m, ok := v.(map[string]any); ok && len(m) > 0 {
				return true
			}
		}
	}
	return false
}

// submitAction translates a batch into the provider-facing action name. This
// is the only place the orchestrator looks at provider identity beyond
// selecting the caller.
func submitAction(provider string, cfg datatypes.JSONMap) string {
	switch strings.ToLower(provider) {
	case "hunyuan":
		return "SubmitHunyuanTo3DJob"
	case "tripo":
		if _, ok := cfg["original_task_id"]; ok {
			return "convert_model"
		}
		if hasImageReference(cfg) {
			return "image_to_model"
		}
		return "text_to_model"
	default:
		return "submit"
	}
}

func buildPayload(batch gendomain.GenerationBatch) map[string]any {
	payload := make(map[string]any, len(batch.Config)+2)
	for k, v := range batch.Config {
		payload[k] = v
	}
	if batch.Prompt != "" {
		payload["prompt"] = batch.Prompt
	}
	payload["model"] = batch.Model
	return payload
}
