package usecases

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/errors"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// GetEntitlementUseCase returns the authoritative record of one user
type GetEntitlementUseCase struct {
	entitlementRepo entitlement.Repository
	logger          logger.Interface
}

// NewGetEntitlementUseCase creates a new get entitlement use case
func NewGetEntitlementUseCase(
	entitlementRepo entitlement.Repository,
	logger logger.Interface,
) *GetEntitlementUseCase {
	return &GetEntitlementUseCase{
		entitlementRepo: entitlementRepo,
		logger:          logger,
	}
}

// Execute executes the get entitlement use case
func (uc *GetEntitlementUseCase) Execute(ctx context.Context, userID string) (*dto.EntitlementResponse, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID is required")
	}

	record, err := uc.entitlementRepo.GetByUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, entitlement.ErrNotFound) {
			uc.logger.Debugw("entitlement record not found", "user_id", userID)
			return nil, errors.NewNotFoundError("entitlement record not found")
		}
		uc.logger.Errorw("failed to get entitlement record", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get entitlement record: %w", err)
	}

	return dto.ToEntitlementResponse(record), nil
}
