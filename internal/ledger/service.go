package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// Service defines operations that record money movements against payments.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (bool, error)
	Refunded(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data a ledger transaction requires.
type RecordInput struct {
	PaymentID         uuid.UUID             `json:"payment_id"`
	Type              enums.TransactionType `json:"type"`
	AmountCents       int64                 `json:"amount_cents"`
	Currency          string                `json:"currency"`
	ProviderPaymentID string                `json:"provider_payment_id"`
	ProviderEventID   string                `json:"provider_event_id"`
	Metadata          map[string]any        `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Record appends one transaction. Replaying the same provider event and type
// is a no-op and reports false.
func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (bool, error) {
	if input.PaymentID == uuid.Nil {
		return false, fmt.Errorf("payment id is required")
	}
	if !input.Type.IsValid() {
		return false, fmt.Errorf("invalid transaction type %q", input.Type)
	}
	if input.AmountCents < 0 {
		return false, fmt.Errorf("amount must be non-negative")
	}
	if strings.TrimSpace(input.ProviderEventID) == "" {
		return false, fmt.Errorf("provider event id is required")
	}

	entry := &models.Transaction{
		PaymentID:         input.PaymentID,
		Type:              input.Type,
		AmountCents:       input.AmountCents,
		Currency:          strings.ToLower(input.Currency),
		ProviderPaymentID: input.ProviderPaymentID,
		ProviderEventID:   input.ProviderEventID,
		Metadata:          input.Metadata,
	}
	return s.repo.WithTx(tx).Insert(ctx, entry)
}

// Refunded returns the total already recorded as REFUND for the payment.
func (s *service) Refunded(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) (int64, error) {
	return s.repo.WithTx(tx).SumByType(ctx, paymentID, enums.TransactionTypeRefund)
}
