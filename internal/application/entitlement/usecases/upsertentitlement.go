package usecases

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/errors"
	"github.com/orris-inc/adfree/internal/shared/logger"
	"github.com/orris-inc/adfree/internal/shared/utils"
)

// ChangePublisher announces entitlement changes to other devices of the user
type ChangePublisher interface {
	PublishEntitlementChanged(ctx context.Context, event dto.EntitlementChangedEvent) error
}

// UpsertEntitlementUseCase applies a verified store transaction to a user's
// record. It is idempotent by transaction id.
type UpsertEntitlementUseCase struct {
	entitlementRepo entitlement.Repository
	publisher       ChangePublisher
	clock           biztime.Clock
	logger          logger.Interface
}

// NewUpsertEntitlementUseCase creates a new upsert entitlement use case.
// publisher may be nil.
func NewUpsertEntitlementUseCase(
	entitlementRepo entitlement.Repository,
	publisher ChangePublisher,
	clock biztime.Clock,
	logger logger.Interface,
) *UpsertEntitlementUseCase {
	return &UpsertEntitlementUseCase{
		entitlementRepo: entitlementRepo,
		publisher:       publisher,
		clock:           clock,
		logger:          logger,
	}
}

// Execute executes the upsert entitlement use case
func (uc *UpsertEntitlementUseCase) Execute(ctx context.Context, req dto.UpsertEntitlementRequest) (*dto.UpsertEntitlementResponse, error) {
	uc.logger.Infow("executing upsert entitlement use case",
		"user_id", req.UserID,
		"transaction_id", req.TransactionID,
		"product_type", req.ProductType,
	)

	if err := utils.ValidateStruct(req); err != nil {
		uc.logger.Warnw("invalid upsert entitlement request", "error", err)
		return nil, err
	}

	purchasedAt := uc.clock.Now()
	if req.PurchasedAt != nil && !req.PurchasedAt.IsZero() {
		purchasedAt = *req.PurchasedAt
	}

	binding, err := entitlement.NewBinding(req.TransactionID, req.UserID, entitlement.ProductType(req.ProductType), purchasedAt)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	binding.ProductID = req.ProductID

	record, applied, err := uc.entitlementRepo.ApplyTransaction(ctx, binding)
	if err != nil {
		if stderrors.Is(err, entitlement.ErrConflict) {
			return nil, errors.NewConflictError(
				"transaction is already bound to different terms",
				"transaction_id: "+req.TransactionID,
			).WithCause(err)
		}
		uc.logger.Errorw("failed to apply entitlement transaction",
			"user_id", req.UserID,
			"transaction_id", req.TransactionID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to apply entitlement transaction: %w", err)
	}

	if applied {
		uc.publish(ctx, binding, record)
	}

	return &dto.UpsertEntitlementResponse{
		EntitlementResponse: *dto.ToEntitlementResponse(record),
		Applied:             applied,
	}, nil
}

// publish is best effort: clients also revalidate on their own schedule.
func (uc *UpsertEntitlementUseCase) publish(ctx context.Context, binding *entitlement.Binding, record *entitlement.Record) {
	if uc.publisher == nil {
		return
	}
	event := dto.EntitlementChangedEvent{
		UserID:        record.UserID(),
		TransactionID: binding.TransactionID,
		ProductType:   record.ProductType().String(),
		Entitled:      record.Entitled(),
		OccurredAt:    uc.clock.Now(),
	}
	if err := uc.publisher.PublishEntitlementChanged(ctx, event); err != nil {
		uc.logger.Warnw("failed to publish entitlement change",
			"user_id", event.UserID,
			"transaction_id", event.TransactionID,
			"error", err,
		)
	}
}
