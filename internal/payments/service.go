// Package payments creates gateway payment intents for catalog and P2P orders
// and folds gateway notifications back into payments, the ledger and the
// owning order.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/internal/fees"
	"github.com/angelmondragon/tradeloop-backend/internal/ledger"
	"github.com/angelmondragon/tradeloop-backend/internal/notifications"
	"github.com/angelmondragon/tradeloop-backend/internal/orders"
	"github.com/angelmondragon/tradeloop-backend/internal/users"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradeloop-backend/pkg/stripe"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const (
	defaultCurrency  = "usd"
	abandonedReason  = "abandoned"
	supersededReason = "superseded"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type feeSource interface {
	Active(ctx context.Context) (*fees.Config, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetGatewayCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	FindOwnedAddress(ctx context.Context, addressID, userID uuid.UUID) (*models.Address, error)
}

type ServiceParams struct {
	Repo         *Repository
	Tx           txRunner
	Outbox       outboxPublisher
	Gateway      Gateway
	Fees         feeSource
	Users        userDirectory
	Ledger       ledger.Service
	Transitioner *orders.Transitioner
	Notifier     notifications.Notifier
	Metrics      *metrics.DomainMetrics
	Logger       *logger.Logger
	Currency     string
	// ShippingFeeCents is added to every P2P payment.
	ShippingFeeCents int64
}

type Service struct {
	repo        *Repository
	tx          txRunner
	outbox      outboxPublisher
	gateway     Gateway
	fees        feeSource
	users       userDirectory
	ledger      ledger.Service
	transitions *orders.Transitioner
	notifier    notifications.Notifier
	metrics     *metrics.DomainMetrics
	logg        *logger.Logger
	currency    string
	shippingFee int64
	now         func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Repo == nil:
		return nil, errors.New("payments repository required")
	case p.Tx == nil:
		return nil, errors.New("transaction runner required")
	case p.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case p.Gateway == nil:
		return nil, errors.New("payment gateway required")
	case p.Fees == nil:
		return nil, errors.New("fee configuration source required")
	case p.Users == nil:
		return nil, errors.New("user directory required")
	case p.Ledger == nil:
		return nil, errors.New("ledger service required")
	case p.Transitioner == nil:
		return nil, errors.New("order transitioner required")
	case p.ShippingFeeCents < 0:
		return nil, errors.New("shipping fee must not be negative")
	}
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &Service{
		repo:        p.Repo,
		tx:          p.Tx,
		outbox:      p.Outbox,
		gateway:     p.Gateway,
		fees:        p.Fees,
		users:       p.Users,
		ledger:      p.Ledger,
		transitions: p.Transitioner,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
		logg:        p.Logger,
		currency:    currency,
		shippingFee: p.ShippingFeeCents,
		now:         time.Now,
	}, nil
}

// CreateOrderPaymentIntent charges the buyer for a catalog order as a
// destination charge to the primary shop's connected account.
func (s *Service) CreateOrderPaymentIntent(ctx context.Context, requesterID uuid.UUID, in OrderIntentInput) (result *IntentResult, err error) {
	ctx, span := tracing.Start(ctx, "payments.create_order_intent", attribute.String("order_id", in.OrderID.String()))
	defer func() { tracing.End(span, err) }()

	order, err := s.repo.FindOrder(ctx, in.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if order.UserID != requesterID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPlaced && order.Status != enums.OrderStatusPaymentPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot be paid", order.Status))
	}
	if len(order.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no items")
	}
	shop, err := s.repo.FindShop(ctx, order.Items[0].ShopID)
	if err != nil {
		return nil, notFoundOr(err, "shop not found", "load shop")
	}
	if shop.GatewayAccountID == nil || strings.TrimSpace(*shop.GatewayAccountID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop has no connected payment account")
	}
	open, err := s.repo.OpenOrderPayments(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payments")
	}
	if err := refuseProcessing(open); err != nil {
		return nil, err
	}

	split, cfg, err := s.split(ctx, order.TotalCents)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	method, err := s.attach(ctx, requesterID, customerID, in.PaymentMethodID, false)
	if err != nil {
		return nil, err
	}
	if err := s.cancelIntents(ctx, open); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		OrderID:         &order.ID,
		PaymentMethodID: method.ID,
		UserID:          requesterID,
		Provider:        stripe.ProviderName,
		Status:          enums.PaymentStatusPending,
		AmountCents:     order.TotalCents,
		Currency:        s.currency,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.supersede(ctx, tx, open); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).CreatePayment(ctx, payment, feeRow(cfg, split)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		return s.emit(ctx, tx, enums.EventPaymentIntentCreated, payment, &requesterID)
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, stripe.IntentParams{
		AmountCents:         payment.AmountCents,
		Currency:            payment.Currency,
		CustomerID:          customerID,
		PaymentMethodID:     method.ProviderPaymentMethodID,
		Destination:         *shop.GatewayAccountID,
		ApplicationFeeCents: split.ApplicationFeeCents(),
		CaptureMethod:       stripe.CaptureAutomatic,
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
			"order_id":   order.ID.String(),
		},
		IdempotencyKey: "payment-" + payment.ID.String(),
	})
	if err != nil {
		return nil, s.intentFailed(ctx, payment, err)
	}
	return s.intentCreated(ctx, payment, intent)
}

// CreateP2PPaymentIntent charges the buyer of an accepted offer. Funds stay on
// the platform account.
func (s *Service) CreateP2PPaymentIntent(ctx context.Context, requesterID uuid.UUID, in P2PIntentInput) (result *IntentResult, err error) {
	ctx, span := tracing.Start(ctx, "payments.create_p2p_intent", attribute.String("offer_id", in.OfferID.String()))
	defer func() { tracing.End(span, err) }()

	offer, err := s.repo.FindOffer(ctx, in.OfferID)
	if err != nil {
		return nil, notFoundOr(err, "offer not found", "load offer")
	}
	if offer.BuyerUserID != requesterID || offer.Item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	if offer.Status != enums.OfferStatusAccepted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "offer has not been accepted")
	}
	conv, err := s.repo.FindConversation(ctx, offer.ItemID, offer.BuyerUserID, offer.Item.SellerUserID)
	if err != nil {
		return nil, notFoundOr(err, "conversation not found", "load conversation")
	}
	addr, err := s.users.FindOwnedAddress(ctx, in.AddressID, requesterID)
	if err != nil {
		return nil, notFoundOr(err, "address not found", "load address")
	}

	total := offer.OfferAmountCents + s.shippingFee
	split, cfg, err := s.split(ctx, total)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	method, err := s.attach(ctx, requesterID, customerID, in.PaymentMethodID, false)
	if err != nil {
		return nil, err
	}

	var open []models.Payment
	if existing, err := s.repo.FindP2POrderByOffer(ctx, offer.ID); err == nil {
		if existing.Status != enums.P2POrderStatusPendingPayment {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "offer has already been paid")
		}
		if open, err = s.repo.OpenP2PPayments(ctx, existing.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payments")
		}
		if err := refuseProcessing(open); err != nil {
			return nil, err
		}
	} else if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load p2p order")
	}
	if err := s.cancelIntents(ctx, open); err != nil {
		return nil, err
	}

	var (
		p2p     *models.P2POrder
		payment *models.Payment
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindP2POrderByOffer(ctx, offer.ID)
		switch {
		case err == nil:
			if existing.Status != enums.P2POrderStatusPendingPayment {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "offer has already been paid")
			}
			if err := s.supersede(ctx, tx, open); err != nil {
				return err
			}
			// Unpaid orders ship to the address of the latest attempt.
			existing.DeliveryAddress = users.Snapshot(addr)
			if err := repo.SetP2PDeliveryAddress(ctx, existing.ID, existing.DeliveryAddress); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update delivery address")
			}
			p2p = existing
		case db.IsNotFound(err):
			p2p = &models.P2POrder{
				OfferID:          offer.ID,
				ItemID:           offer.ItemID,
				BuyerUserID:      offer.BuyerUserID,
				SellerUserID:     offer.Item.SellerUserID,
				ConversationID:   conv.ID,
				ItemAmountCents:  offer.OfferAmountCents,
				ShippingFeeCents: s.shippingFee,
				TotalCents:       total,
				Status:           enums.P2POrderStatusPendingPayment,
				DeliveryAddress:  users.Snapshot(addr),
			}
			if err := repo.CreateP2POrder(ctx, p2p); err != nil {
				if db.IsUniqueViolation(err, "") {
					return pkgerrors.New(pkgerrors.CodeConflict, "payment for this offer is already being created")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create p2p order")
			}
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load p2p order")
		}

		payment = &models.Payment{
			P2POrderID:      &p2p.ID,
			PaymentMethodID: method.ID,
			UserID:          requesterID,
			Provider:        stripe.ProviderName,
			Status:          enums.PaymentStatusPending,
			AmountCents:     p2p.TotalCents,
			Currency:        s.currency,
		}
		if err := repo.CreatePayment(ctx, payment, feeRow(cfg, split)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		return s.emit(ctx, tx, enums.EventPaymentIntentCreated, payment, &requesterID)
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, stripe.IntentParams{
		AmountCents:     payment.AmountCents,
		Currency:        payment.Currency,
		CustomerID:      customerID,
		PaymentMethodID: method.ProviderPaymentMethodID,
		CaptureMethod:   stripe.CaptureAutomaticAsync,
		Metadata: map[string]string{
			"payment_id":      payment.ID.String(),
			"offer_id":        offer.ID.String(),
			"p2p_order_id":    p2p.ID.String(),
			"conversation_id": conv.ID.String(),
		},
		IdempotencyKey: "payment-" + payment.ID.String(),
	})
	if err != nil {
		return nil, s.intentFailed(ctx, payment, err)
	}
	return s.intentCreated(ctx, payment, intent)
}

// ApplyGatewayEvent folds one gateway notification into local state. It
// reports whether anything changed; replays and stale events are no-ops.
func (s *Service) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) (applied bool, err error) {
	ctx, span := tracing.Start(ctx, "payments.apply_gateway_event",
		attribute.String("event_id", ev.EventID),
		attribute.String("kind", string(ev.Kind)),
	)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(ev.EventID) == "" || strings.TrimSpace(ev.ProviderPaymentID) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "gateway event requires event and payment ids")
	}

	var notice *notifications.Message
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindPaymentByProviderID(ctx, ev.ProviderPaymentID)
		if err != nil {
			return notFoundOr(err, "payment not found", "load payment")
		}

		switch ev.Kind {
		case EventProcessing:
			applied, err = s.markProcessing(ctx, repo, payment)
		case EventSucceeded:
			applied, err = s.markSucceeded(ctx, tx, payment, ev)
		case EventFailed:
			applied, err = s.markFailed(ctx, tx, payment, ev)
			if applied {
				notice = &notifications.Message{
					Kind:       notifications.KindPaymentFailed,
					Recipients: []uuid.UUID{payment.UserID},
					Title:      "Payment failed",
					Body:       "Your payment could not be completed. Please try another payment method.",
					Data:       map[string]string{"payment_id": payment.ID.String()},
				}
			}
		case EventCancelled:
			applied, err = s.markCancelled(ctx, tx, payment, ev.FailureReason)
		case EventRefunded:
			applied, err = s.markRefunded(ctx, tx, payment, ev)
		default:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported gateway event kind %q", ev.Kind))
		}
		return err
	})
	if err != nil {
		s.metrics.PaymentEvent(string(ev.Kind), "error")
		return false, err
	}

	result := "ignored"
	if applied {
		result = "applied"
	}
	s.metrics.PaymentEvent(string(ev.Kind), result)
	if notice != nil {
		notifications.Deliver(ctx, s.notifier, s.logg, *notice)
	}
	return applied, nil
}

func (s *Service) markProcessing(ctx context.Context, repo *Repository, payment *models.Payment) (bool, error) {
	if payment.Status != enums.PaymentStatusPending {
		return false, nil
	}
	rows, err := repo.UpdatePayment(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusPending},
		map[string]any{"status": enums.PaymentStatusProcessing})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment processing")
	}
	return rows > 0, nil
}

func (s *Service) markSucceeded(ctx context.Context, tx *gorm.DB, payment *models.Payment, ev GatewayEvent) (bool, error) {
	repo := s.repo.WithTx(tx)
	from := []enums.PaymentStatus{
		enums.PaymentStatusPending,
		enums.PaymentStatusProcessing,
		enums.PaymentStatusFailed,
		enums.PaymentStatusCancelled,
	}
	rows, err := repo.UpdatePayment(ctx, payment.ID, from, map[string]any{
		"status":         enums.PaymentStatusSucceeded,
		"failure_reason": nil,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
	}
	if rows == 0 {
		return false, nil
	}
	payment.Status = enums.PaymentStatusSucceeded
	payment.FailureReason = nil

	fee, err := repo.FindFee(ctx, payment.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment fee")
	}
	entries := []ledger.RecordInput{
		{Type: enums.TransactionTypeCharge, AmountCents: payment.AmountCents},
		{Type: enums.TransactionTypeFee, AmountCents: fee.PlatformFeeCents + fee.DeliveryFeeCents, Metadata: map[string]any{
			"platform_fee_cents": fee.PlatformFeeCents,
			"delivery_fee_cents": fee.DeliveryFeeCents,
			"shop_amount_cents":  fee.ShopAmountCents,
		}},
	}
	for _, entry := range entries {
		entry.PaymentID = payment.ID
		entry.Currency = payment.Currency
		entry.ProviderPaymentID = ev.ProviderPaymentID
		entry.ProviderEventID = ev.EventID
		if _, err := s.ledger.Record(ctx, tx, entry); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger entry")
		}
	}

	switch {
	case payment.OrderID != nil:
		moved, err := s.transitions.ApplyIfLegal(ctx, tx, orders.TransitionInput{
			OrderID:  *payment.OrderID,
			To:       enums.OrderStatusPaymentCompleted,
			Reason:   "payment succeeded",
			Metadata: map[string]any{"payment_id": payment.ID.String()},
		})
		if err != nil {
			return false, err
		}
		if !moved {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"payment_id": payment.ID.String(),
				"order_id":   payment.OrderID.String(),
			}), "payment succeeded for an order past payment; refund required")
		}
	case payment.P2POrderID != nil:
		if err := s.settleP2P(ctx, repo, *payment.P2POrderID); err != nil {
			return false, err
		}
	}
	return true, s.emit(ctx, tx, enums.EventPaymentSucceeded, payment, nil)
}

// settleP2P marks the P2P order paid and the listing sold.
func (s *Service) settleP2P(ctx context.Context, repo *Repository, p2pOrderID uuid.UUID) error {
	rows, err := repo.SetP2POrderStatus(ctx, p2pOrderID,
		[]enums.P2POrderStatus{enums.P2POrderStatusPendingPayment}, enums.P2POrderStatusPaid)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark p2p order paid")
	}
	if rows == 0 {
		return nil
	}
	p2p, err := repo.FindP2POrder(ctx, p2pOrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load p2p order")
	}
	if _, err := repo.SetItemStatus(ctx, p2p.ItemID,
		[]enums.UserItemStatus{enums.UserItemStatusReserved, enums.UserItemStatusAvailable}, enums.UserItemStatusSold); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark item sold")
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, tx *gorm.DB, payment *models.Payment, ev GatewayEvent) (bool, error) {
	reason := ev.FailureReason
	if reason == "" {
		reason = "payment failed"
	}
	rows, err := s.repo.WithTx(tx).UpdatePayment(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing},
		map[string]any{"status": enums.PaymentStatusFailed, "failure_reason": reason})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
	}
	if rows == 0 {
		return false, nil
	}
	payment.Status = enums.PaymentStatusFailed
	payment.FailureReason = &reason
	if err := s.releaseOrder(ctx, tx, payment, "payment failed"); err != nil {
		return false, err
	}
	return true, s.emit(ctx, tx, enums.EventPaymentFailed, payment, nil)
}

func (s *Service) markCancelled(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) (bool, error) {
	if reason == "" {
		reason = "cancelled"
	}
	rows, err := s.repo.WithTx(tx).UpdatePayment(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing, enums.PaymentStatusFailed},
		map[string]any{"status": enums.PaymentStatusCancelled, "failure_reason": reason})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment cancelled")
	}
	if rows == 0 {
		return false, nil
	}
	payment.Status = enums.PaymentStatusCancelled
	payment.FailureReason = &reason
	if err := s.releaseOrder(ctx, tx, payment, "payment cancelled"); err != nil {
		return false, err
	}
	return true, s.emit(ctx, tx, enums.EventPaymentAbandoned, payment, nil)
}

func (s *Service) markRefunded(ctx context.Context, tx *gorm.DB, payment *models.Payment, ev GatewayEvent) (bool, error) {
	if payment.Status != enums.PaymentStatusSucceeded && payment.Status != enums.PaymentStatusPartiallyRefunded {
		return false, nil
	}
	if ev.RefundedCents <= payment.RefundedAmountCents {
		return false, nil
	}
	cumulative := min(ev.RefundedCents, payment.AmountCents)
	recorded, err := s.ledger.Refunded(ctx, tx, payment.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum recorded refunds")
	}
	delta := cumulative - max(recorded, payment.RefundedAmountCents)
	if delta <= 0 {
		return false, nil
	}
	status := enums.PaymentStatusPartiallyRefunded
	if cumulative >= payment.AmountCents {
		status = enums.PaymentStatusRefunded
	}

	repo := s.repo.WithTx(tx)
	rows, err := repo.UpdatePayment(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusSucceeded, enums.PaymentStatusPartiallyRefunded},
		map[string]any{"status": status, "refunded_amount_cents": cumulative})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
	}
	if rows == 0 {
		return false, nil
	}
	if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PaymentID:         payment.ID,
		Type:              enums.TransactionTypeRefund,
		AmountCents:       delta,
		Currency:          payment.Currency,
		ProviderPaymentID: ev.ProviderPaymentID,
		ProviderEventID:   ev.EventID,
		Metadata:          map[string]any{"cumulative_refunded_cents": cumulative},
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	payment.Status = status
	payment.RefundedAmountCents = cumulative

	if status == enums.PaymentStatusRefunded {
		switch {
		case payment.OrderID != nil:
			if _, err := s.transitions.ApplyIfLegal(ctx, tx, orders.TransitionInput{
				OrderID:  *payment.OrderID,
				To:       enums.OrderStatusRefundProcessed,
				Reason:   "payment refunded",
				Metadata: map[string]any{"payment_id": payment.ID.String()},
			}); err != nil {
				return false, err
			}
		case payment.P2POrderID != nil:
			if _, err := repo.SetP2POrderStatus(ctx, *payment.P2POrderID, []enums.P2POrderStatus{
				enums.P2POrderStatusPaid,
				enums.P2POrderStatusShipped,
				enums.P2POrderStatusDelivered,
				enums.P2POrderStatusCompleted,
			}, enums.P2POrderStatusRefunded); err != nil {
				return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark p2p order refunded")
			}
		}
	}
	return true, s.emit(ctx, tx, enums.EventPaymentRefunded, payment, nil)
}

// AttachPaymentMethod stores a gateway payment method for the user, attaching
// it to their gateway customer when needed.
func (s *Service) AttachPaymentMethod(ctx context.Context, userID uuid.UUID, in AttachMethodInput) (*PaymentMethodDTO, error) {
	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	pm, err := s.attach(ctx, userID, customerID, in.ProviderPaymentMethodID, in.MakeDefault)
	if err != nil {
		return nil, err
	}
	dto := paymentMethodDTO(pm)
	return &dto, nil
}

// DetachPaymentMethod removes the method from the gateway customer. Detaching
// twice is a no-op.
func (s *Service) DetachPaymentMethod(ctx context.Context, userID, id uuid.UUID) (*PaymentMethodDTO, error) {
	pm, err := s.repo.FindPaymentMethod(ctx, id, userID)
	if err != nil {
		return nil, notFoundOr(err, "payment method not found", "load payment method")
	}
	if pm.DetachedAt == nil {
		if err := s.gateway.DetachPaymentMethod(ctx, pm.ProviderPaymentMethodID); err != nil {
			return nil, pkgerrors.Upstream(err, "payment gateway: "+err.Error())
		}
		now := s.now().UTC()
		pm.DetachedAt = &now
		pm.IsDefault = false
		if err := s.repo.SavePaymentMethod(ctx, pm); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment method")
		}
	}
	dto := paymentMethodDTO(pm)
	return &dto, nil
}

// ReconcileStalePayments cancels payments that never reached the gateway and
// re-reads open intents whose notifications may have been lost.
func (s *Service) ReconcileStalePayments(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	var (
		result ReconcileResult
		errs   error
	)
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}

	abandoned, err := s.repo.AbandonedPending(ctx, in.AbandonBefore, limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list abandoned payments")
	}
	for i := range abandoned {
		payment := &abandoned[i]
		var changed bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.repo.WithTx(tx).UpdatePayment(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusPending},
				map[string]any{"status": enums.PaymentStatusCancelled, "failure_reason": abandonedReason})
			if err != nil || rows == 0 {
				return err
			}
			changed = true
			reason := abandonedReason
			payment.Status = enums.PaymentStatusCancelled
			payment.FailureReason = &reason
			if err := s.releaseOrder(ctx, tx, payment, "payment abandoned"); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventPaymentAbandoned, payment, nil)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("abandon payment %s: %w", payment.ID, err))
			continue
		}
		if changed {
			result.Abandoned++
		}
	}

	open, err := s.repo.StaleOpen(ctx, in.RecheckBefore, limit)
	if err != nil {
		return result, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open payments"))
	}
	for _, payment := range open {
		intent, err := s.gateway.GetPaymentIntent(ctx, *payment.ProviderPaymentID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read intent for payment %s: %w", payment.ID, err))
			continue
		}
		applied := false
		if kind, ok := kindForIntent(intent); ok {
			applied, err = s.ApplyGatewayEvent(ctx, GatewayEvent{
				EventID:           fmt.Sprintf("reconcile:%s:%s:%d", intent.ID, intent.Status, intent.AmountRefundedCents),
				Kind:              kind,
				ProviderPaymentID: intent.ID,
				RefundedCents:     intent.AmountRefundedCents,
				FailureReason:     intent.FailureReason,
			})
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("apply intent %s: %w", intent.ID, err))
				continue
			}
		}
		if applied {
			result.Refreshed++
			continue
		}
		// Push unchanged rows to the back of the queue.
		if _, err := s.repo.UpdatePayment(ctx, payment.ID, []enums.PaymentStatus{payment.Status},
			map[string]any{"updated_at": s.now().UTC()}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("touch payment %s: %w", payment.ID, err))
		}
	}
	return result, errs
}

func (s *Service) split(ctx context.Context, amountCents int64) (fees.Split, *fees.Config, error) {
	cfg, err := s.fees.Active(ctx)
	if err != nil {
		return fees.Split{}, nil, err
	}
	split, err := fees.Compute(amountCents, cfg)
	if err != nil {
		return fees.Split{}, nil, err
	}
	return split, cfg, nil
}

func (s *Service) ensureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", notFoundOr(err, "user not found", "load user")
	}
	if user.GatewayCustomerID != nil && *user.GatewayCustomerID != "" {
		return *user.GatewayCustomerID, nil
	}
	customerID, err := s.gateway.EnsureCustomer(ctx, stripe.CustomerParams{UserID: userID.String(), Email: user.Email})
	if err != nil {
		return "", pkgerrors.Upstream(err, "payment gateway: "+err.Error())
	}
	if err := s.users.SetGatewayCustomerID(ctx, userID, customerID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save gateway customer")
	}
	return customerID, nil
}

// attach resolves a gateway payment method id to a stored row owned by userID,
// attaching it at the gateway when it is new or was detached.
func (s *Service) attach(ctx context.Context, userID uuid.UUID, customerID, providerID string, makeDefault bool) (*models.PaymentMethod, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method id is required")
	}

	pm, err := s.repo.FindPaymentMethodByProviderID(ctx, providerID)
	switch {
	case err == nil:
		if pm.UserID != userID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment method belongs to another user")
		}
	case db.IsNotFound(err):
		pm = &models.PaymentMethod{UserID: userID, Provider: stripe.ProviderName, ProviderPaymentMethodID: providerID}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}

	dirty := pm.ID == uuid.Nil
	if pm.ID == uuid.Nil || pm.DetachedAt != nil {
		details, err := s.gateway.AttachPaymentMethod(ctx, providerID, customerID)
		if err != nil {
			return nil, pkgerrors.Upstream(err, "payment gateway: "+err.Error())
		}
		pm.Brand = optional(details.Brand)
		pm.Last4 = optional(details.Last4)
		pm.DetachedAt = nil
		dirty = true
	}
	if makeDefault && !pm.IsDefault {
		pm.IsDefault = true
		dirty = true
	}
	if !dirty {
		return pm, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.SavePaymentMethod(ctx, pm); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment method already attached")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment method")
		}
		if pm.IsDefault {
			if err := repo.ClearDefault(ctx, userID, pm.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear default payment method")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// intentFailed keeps the payment PENDING with the gateway's message so the
// reconcile sweep can abandon it later.
func (s *Service) intentFailed(ctx context.Context, payment *models.Payment, cause error) error {
	s.metrics.PaymentEvent("intent_created", "error")
	reason := cause.Error()
	if _, err := s.repo.UpdatePayment(ctx, payment.ID, nil, map[string]any{"failure_reason": reason}); err != nil {
		s.logg.Error(ctx, "failed to record payment failure reason", err)
	}
	return pkgerrors.Upstream(cause, "payment gateway: "+reason).
		WithDetails(map[string]any{"upstream": reason, "payment_id": payment.ID.String()})
}

func (s *Service) intentCreated(ctx context.Context, payment *models.Payment, intent stripe.Intent) (*IntentResult, error) {
	updates := map[string]any{
		"provider_payment_id": intent.ID,
		"client_secret":       intent.ClientSecret,
	}
	if intent.Status == stripe.IntentProcessing {
		updates["status"] = enums.PaymentStatusProcessing
		payment.Status = enums.PaymentStatusProcessing
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).UpdatePayment(ctx, payment.ID, nil, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment intent")
		}
		if payment.OrderID == nil {
			return nil
		}
		_, err := s.transitions.ApplyIfLegal(ctx, tx, orders.TransitionInput{
			OrderID:   *payment.OrderID,
			To:        enums.OrderStatusPaymentPending,
			ActorID:   &payment.UserID,
			ActorRole: enums.UserRoleCustomer,
			Metadata:  map[string]any{"payment_id": payment.ID.String()},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentEvent("intent_created", "ok")
	return &IntentResult{
		PaymentID:    payment.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		OrderID:      payment.OrderID,
		P2POrderID:   payment.P2POrderID,
		AmountCents:  payment.AmountCents,
		Currency:     payment.Currency,
		Status:       payment.Status,
	}, nil
}

// refuseProcessing blocks a new attempt while the gateway is already moving
// money for an earlier one.
func refuseProcessing(open []models.Payment) error {
	for _, p := range open {
		if p.Status == enums.PaymentStatusProcessing {
			return pkgerrors.New(pkgerrors.CodeConflict, "an earlier payment is still processing").
				WithDetails(map[string]any{"payment_id": p.ID.String()})
		}
	}
	return nil
}

// cancelIntents voids the gateway intents of earlier attempts so at most one
// intent per order can be confirmed.
func (s *Service) cancelIntents(ctx context.Context, open []models.Payment) error {
	for _, p := range open {
		if p.ProviderPaymentID == nil {
			continue
		}
		if err := s.gateway.CancelPaymentIntent(ctx, *p.ProviderPaymentID); err != nil {
			return pkgerrors.Upstream(err, "payment gateway: "+err.Error()).
				WithDetails(map[string]any{"payment_id": p.ID.String()})
		}
	}
	return nil
}

// supersede closes the earlier attempts whose intents were cancelled.
func (s *Service) supersede(ctx context.Context, tx *gorm.DB, open []models.Payment) error {
	repo := s.repo.WithTx(tx)
	for i := range open {
		p := &open[i]
		rows, err := repo.UpdatePayment(ctx, p.ID, []enums.PaymentStatus{enums.PaymentStatusPending},
			map[string]any{"status": enums.PaymentStatusCancelled, "failure_reason": supersededReason})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede payment")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "an earlier payment changed while retrying")
		}
		reason := supersededReason
		p.Status = enums.PaymentStatusCancelled
		p.FailureReason = &reason
		if err := s.releaseOrder(ctx, tx, p, "payment superseded"); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventPaymentAbandoned, p, nil); err != nil {
			return err
		}
	}
	return nil
}

// releaseOrder returns a PAYMENT_PENDING order to ORDER_PLACED once none of
// its payments holds a live gateway intent.
func (s *Service) releaseOrder(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) error {
	if payment.OrderID == nil {
		return nil
	}
	live, err := s.repo.WithTx(tx).CountLiveOrderPayments(ctx, *payment.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count live payments")
	}
	if live > 0 {
		return nil
	}
	_, err = s.transitions.ApplyIfLegal(ctx, tx, orders.TransitionInput{
		OrderID:  *payment.OrderID,
		To:       enums.OrderStatusPlaced,
		Reason:   reason,
		Metadata: map[string]any{"payment_id": payment.ID.String()},
	})
	return err
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, actorID *uuid.UUID) error {
	var actor *outbox.ActorRef
	if actorID != nil {
		actor = &outbox.ActorRef{UserID: *actorID, Role: string(enums.UserRoleCustomer)}
	}
	data := payloads.PaymentEvent{
		PaymentID:     payment.ID,
		OrderID:       payment.OrderID,
		P2POrderID:    payment.P2POrderID,
		UserID:        payment.UserID,
		Status:        string(payment.Status),
		AmountCents:   payment.AmountCents,
		RefundedCents: payment.RefundedAmountCents,
		Currency:      payment.Currency,
	}
	if payment.ProviderPaymentID != nil {
		data.ProviderPaymentID = *payment.ProviderPaymentID
	}
	if payment.FailureReason != nil {
		data.FailureReason = *payment.FailureReason
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		Data:          data,
	})
}

func feeRow(cfg *fees.Config, split fees.Split) *models.PaymentFee {
	return &models.PaymentFee{
		FeeConfigurationID:    cfg.ID,
		PlatformFeeCents:      split.PlatformFeeCents,
		PlatformFeePercentage: split.PlatformFeePercentage,
		ShopAmountCents:       split.ShopAmountCents,
		ShopFeePercentage:     split.ShopFeePercentage,
		DeliveryFeeCents:      split.DeliveryFeeCents,
		DeliveryFeePercentage: split.DeliveryFeePercentage,
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func notFoundOr(err error, notFound, op string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
