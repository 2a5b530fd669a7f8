package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	"github.com/atelierhq/atelier/internal/orgcontext"
)

type createGenerationRequest struct {
	TopicID  string         `json:"topic_id"`
	Provider string         `json:"provider" binding:"required"`
	Model    string         `json:"model" binding:"required"`
	Prompt   string         `json:"prompt"`
	Count    int            `json:"count"`
	Params   map[string]any `json:"params"`
}

func (s *Server) CreateGeneration(c *gin.Context) {
	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, ok := orgcontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, _ := orgcontext.OrgIDFromContext(c.Request.Context())

	create := gendomain.CreateGenerationRequest{
		UserID:   userID,
		OrgID:    orgID,
		Provider: req.Provider,
		Model:    req.Model,
		Prompt:   req.Prompt,
		Count:    req.Count,
		Params:   req.Params,
	}
	if req.TopicID != "" {
		topicID, err := snowflake.ParseString(req.TopicID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		create.TopicID = &topicID
	}

	result, err := s.generationSvc.CreateGeneration(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

type convertGenerationRequest struct {
	Provider string         `json:"provider" binding:"required"`
	Model    string         `json:"model" binding:"required"`
	Params   map[string]any `json:"params"`
}

func (s *Server) ConvertGeneration(c *gin.Context) {
	sourceID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req convertGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, ok := orgcontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, _ := orgcontext.OrgIDFromContext(c.Request.Context())

	result, err := s.generationSvc.ConvertGeneration(c.Request.Context(), gendomain.ConvertGenerationRequest{
		UserID:             userID,
		OrgID:              orgID,
		SourceGenerationID: sourceID,
		Provider:           req.Provider,
		Model:              req.Model,
		Params:             req.Params,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

func (s *Server) GetBatch(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	detail, err := s.generationSvc.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) GetGeneration(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	detail, err := s.generationSvc.GetGeneration(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) GetTask(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	task, err := s.generationSvc.GetTask(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) ListPricing(c *gin.Context) {
	prices, err := s.pricingSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pricing": prices})
}

func parseIDParam(c *gin.Context) (snowflake.ID, error) {
	return snowflake.ParseString(c.Param("id"))
}
