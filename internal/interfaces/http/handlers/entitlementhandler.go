package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/shared/errors"
	"github.com/orris-inc/adfree/internal/shared/logger"
	"github.com/orris-inc/adfree/internal/shared/utils"
)

// EntitlementHandler serves the entitlement authority API
type EntitlementHandler struct {
	getEntitlementUC    getEntitlementUseCase
	upsertEntitlementUC upsertEntitlementUseCase
	logger              logger.Interface
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(
	getEntitlementUC getEntitlementUseCase,
	upsertEntitlementUC upsertEntitlementUseCase,
	logger logger.Interface,
) *EntitlementHandler {
	return &EntitlementHandler{
		getEntitlementUC:    getEntitlementUC,
		upsertEntitlementUC: upsertEntitlementUC,
		logger:              logger,
	}
}

// GetEntitlement handles GET /api/v1/users/:user_id/entitlement
func (h *EntitlementHandler) GetEntitlement(c *gin.Context) {
	userID := c.Param("user_id")

	result, err := h.getEntitlementUC.Execute(c.Request.Context(), userID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", result)
}

// UpsertTransaction handles PUT /api/v1/users/:user_id/entitlement/transactions/:transaction_id
// Replaying a transaction with the same terms returns the current record
// with applied=false.
func (h *EntitlementHandler) UpsertTransaction(c *gin.Context) {
	var req dto.UpsertEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnw("invalid upsert request body", "error", err)
		utils.ErrorResponseWithError(c, errors.NewValidationError("Invalid request body", err.Error()))
		return
	}
	req.UserID = c.Param("user_id")
	req.TransactionID = c.Param("transaction_id")

	result, err := h.upsertEntitlementUC.Execute(c.Request.Context(), req)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Applied {
		status = http.StatusCreated
	}
	utils.SuccessResponse(c, status, "", result)
}
