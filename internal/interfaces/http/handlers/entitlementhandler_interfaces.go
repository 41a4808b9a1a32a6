package handlers

import (
	"context"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
)

// Use case interfaces for EntitlementHandler

type getEntitlementUseCase interface {
	Execute(ctx context.Context, userID string) (*dto.EntitlementResponse, error)
}

type upsertEntitlementUseCase interface {
	Execute(ctx context.Context, req dto.UpsertEntitlementRequest) (*dto.UpsertEntitlementResponse, error)
}
