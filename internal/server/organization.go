package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/backoffice/internal/creditledger/domain"
	organizationdomain "github.com/smallbiznis/backoffice/internal/organization/domain"
)

func (s *Server) ListOrganizations(c *gin.Context) {
	var req organizationdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteOrganization(c *gin.Context) {
	orgID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, newValidationError("id", "invalid_organization", "invalid value"))
		return
	}

	if err := s.organizationSvc.Delete(c.Request.Context(), orgID, actorFromHeader(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type syncOrganizationsRequest struct {
	OrganizationIDs []string `json:"organization_ids"`
}

func (s *Server) SyncOrganizations(c *gin.Context) {
	var req syncOrganizationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.OrganizationIDs) == 0 {
		AbortWithError(c, newValidationError("organization_ids", "invalid_request", "at least one organization id is required"))
		return
	}

	orgIDs := make([]snowflake.ID, 0, len(req.OrganizationIDs))
	for _, raw := range req.OrganizationIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, newValidationError("organization_ids", "invalid_organization", "invalid value"))
			return
		}
		orgIDs = append(orgIDs, id)
	}

	result, err := s.syncEngine.SyncOrganizations(c.Request.Context(), orgIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type addCreditsRequest struct {
	Amount            int64   `json:"amount"`
	Type              string  `json:"type"`
	ExternalReference *string `json:"external_reference"`
	Description       *string `json:"description"`
}

func (s *Server) AddCredits(c *gin.Context) {
	orgID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, newValidationError("id", "invalid_organization", "invalid value"))
		return
	}

	var req addCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txType := ledgerdomain.TransactionType(strings.TrimSpace(req.Type))
	if txType == "" {
		txType = ledgerdomain.TypeManualAdjustment
	}

	result, err := s.ledgerSvc.AddCredits(c.Request.Context(), ledgerdomain.AddCreditsRequest{
		OrgID:             orgID,
		Amount:            req.Amount,
		Type:              txType,
		ExternalReference: req.ExternalReference,
		Description:       req.Description,
		CreatedBy:         actorFromHeader(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyApplied {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"transaction":     result.Transaction,
		"already_applied": result.AlreadyApplied,
	})
}

func (s *Server) GetCreditBalance(c *gin.Context) {
	orgID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, newValidationError("id", "invalid_organization", "invalid value"))
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	orgID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, newValidationError("id", "invalid_organization", "invalid value"))
		return
	}

	var req ledgerdomain.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = orgID

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// actorFromHeader resolves the admin user the gateway authenticated, if any.
// Authentication itself happens upstream of this service.
func actorFromHeader(c *gin.Context) *snowflake.ID {
	raw := strings.TrimSpace(c.GetHeader("X-Admin-User-Id"))
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}
