package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	"github.com/atelierhq/atelier/internal/orgcontext"
	"github.com/atelierhq/atelier/pkg/db/pagination"
)

func (s *Server) GetOrganizationCredit(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	credit, err := s.creditSvc.GetOrganizationCredit(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

func (s *Server) ListTransactions(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit = parseIntDefault(raw, 0)
	}

	transactions, err := s.creditSvc.ListTransactions(c.Request.Context(), orgID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (s *Server) ListUsage(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	records, pageInfo, err := s.creditSvc.ListUsage(c.Request.Context(), orgID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": records, "page_info": pageInfo})
}

type rechargeRequest struct {
	Credits int64  `json:"credits" binding:"required"`
	Reason  string `json:"reason"`
}

func (s *Server) Recharge(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	operatorID, _ := orgcontext.UserIDFromContext(c.Request.Context())
	txn, err := s.creditSvc.Recharge(c.Request.Context(), creditdomain.RechargeRequest{
		OrgID:      orgID,
		OperatorID: operatorID,
		Delta:      req.Credits,
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type setBalanceRequest struct {
	Balance int64 `json:"balance"`
}

func (s *Server) SetBalance(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req setBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	operatorID, _ := orgcontext.UserIDFromContext(c.Request.Context())
	txn, err := s.creditSvc.SetBalance(c.Request.Context(), orgID, operatorID, req.Balance)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type setQuotaRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Limit  *int64 `json:"limit"`
}

func (s *Server) SetQuotaLimit(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req setQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID, err := snowflakeFromString(req.UserID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.creditSvc.SetQuotaLimit(c.Request.Context(), orgID, userID, req.Limit); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type resetUsageRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) ResetUsage(c *gin.Context) {
	orgID, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req resetUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID, err := snowflakeFromString(req.UserID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.creditSvc.ResetUsage(c.Request.Context(), orgID, userID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
