// Package offers runs peer-to-peer price negotiation. Every offer lives in the
// chat thread of its (item, buyer, seller) triple, and accepting one offer
// rejects its pending siblings in the same transaction.
package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/internal/notifications"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const defaultOfferTTL = 48 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type roleReader interface {
	RoleOf(ctx context.Context, id uuid.UUID) (enums.UserRole, error)
}

type ServiceParams struct {
	Repo     *Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Roles    roleReader
	Notifier notifications.Notifier
	Metrics  *metrics.DomainMetrics
	Logger   *logger.Logger
	TTL      time.Duration
	// EnforceExpiry refuses to accept offers whose valid_until has passed.
	EnforceExpiry bool
}

type Service struct {
	repo          *Repository
	tx            txRunner
	outbox        outboxPublisher
	roles         roleReader
	notifier      notifications.Notifier
	metrics       *metrics.DomainMetrics
	logg          *logger.Logger
	ttl           time.Duration
	enforceExpiry bool
	now           func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Repo == nil:
		return nil, errors.New("offers repository required")
	case p.Tx == nil:
		return nil, errors.New("transaction runner required")
	case p.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case p.Roles == nil:
		return nil, errors.New("role reader required")
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = defaultOfferTTL
	}
	return &Service{
		repo:          p.Repo,
		tx:            p.Tx,
		outbox:        p.Outbox,
		roles:         p.Roles,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
		logg:          p.Logger,
		ttl:           ttl,
		enforceExpiry: p.EnforceExpiry,
		now:           time.Now,
	}, nil
}

// CreateOffer records a buyer's price for a listing and posts it into the
// buyer/seller conversation.
func (s *Service) CreateOffer(ctx context.Context, buyerID uuid.UUID, in CreateInput) (result *CreateResult, err error) {
	ctx, span := tracing.Start(ctx, "offers.create", attribute.String("item_id", in.ItemID.String()))
	defer func() { tracing.End(span, err) }()

	if in.OfferAmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer amount must be positive")
	}
	role, err := s.roles.RoleOf(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if role != enums.UserRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can make offers")
	}

	var (
		offer *models.UserItemOffer
		conv  *models.ChatConversation
		msg   *models.ChatMessage
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		item, err := repo.FindItem(ctx, in.ItemID)
		if err != nil {
			return notFoundOr(err, "item not found", "load item")
		}
		if item.SellerUserID == buyerID {
			return pkgerrors.New(pkgerrors.CodeValidation, "sellers cannot make offers on their own items")
		}
		if item.Status != enums.UserItemStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item is not available")
		}

		conv, err = repo.EnsureConversation(ctx, item.ID, buyerID, item.SellerUserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure conversation")
		}

		validUntil := now.Add(s.ttl)
		offer = &models.UserItemOffer{
			ItemID:           item.ID,
			BuyerUserID:      buyerID,
			OfferAmountCents: in.OfferAmountCents,
			Message:          in.Message,
			Status:           enums.OfferStatusPending,
			ValidUntil:       &validUntil,
		}
		if err := repo.CreateOffer(ctx, offer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create offer")
		}

		msg = &models.ChatMessage{
			ConversationID: conv.ID,
			Type:           enums.MessageTypeOffer,
			Content:        fmt.Sprintf("Offered %s for %s", formatCents(offer.OfferAmountCents), item.Title),
			OfferID:        &offer.ID,
			CreatedAt:      now,
		}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append offer message")
		}
		conv.LastMessageAt = &now

		return s.emit(ctx, tx, enums.EventOfferCreated, offer, item.SellerUserID, buyerID)
	})
	if err != nil {
		return nil, err
	}

	notifications.Deliver(ctx, s.notifier, s.logg, notifications.Message{
		Kind:       notifications.KindOfferReceived,
		Recipients: []uuid.UUID{conv.SellerUserID},
		Title:      "New offer received",
		Body:       msg.Content,
		Data:       map[string]string{"offer_id": offer.ID.String(), "conversation_id": conv.ID.String()},
	})
	return &CreateResult{
		Conversation: conversationDTO(conv),
		Offer:        offerDTO(offer),
		Message:      messageDTO(msg),
	}, nil
}

// RespondToOffer accepts or rejects a pending offer on behalf of the seller.
func (s *Service) RespondToOffer(ctx context.Context, responderID uuid.UUID, in RespondInput) (result *RespondResult, err error) {
	ctx, span := tracing.Start(ctx, "offers.respond",
		attribute.String("offer_id", in.OfferID.String()),
		attribute.String("status", string(in.Status)),
	)
	defer func() { tracing.End(span, err) }()

	if in.Status != enums.OfferStatusAccepted && in.Status != enums.OfferStatusRejected {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be ACCEPTED or REJECTED")
	}

	var (
		offer    *models.UserItemOffer
		msg      *models.ChatMessage
		payment  *models.ChatMessage
		rejected []models.UserItemOffer
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		var err error
		offer, err = repo.FindOffer(ctx, in.OfferID)
		if err != nil {
			return notFoundOr(err, "offer not found", "load offer")
		}
		if offer.Item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
		}
		item := offer.Item
		if item.SellerUserID != responderID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can respond to an offer")
		}
		conv, err := repo.FindConversation(ctx, in.ConversationID)
		if err != nil {
			return notFoundOr(err, "conversation not found", "load conversation")
		}
		if conv.ItemID != item.ID || conv.BuyerUserID != offer.BuyerUserID || conv.SellerUserID != item.SellerUserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "conversation not found")
		}
		if offer.Status != enums.OfferStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("offer is %s", offer.Status))
		}
		if in.Status == enums.OfferStatusAccepted && s.enforceExpiry && offer.ExpiredAt(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "offer expired")
		}

		if err := s.setStatus(ctx, repo, offer, in.Status, now); err != nil {
			return err
		}

		msg = &models.ChatMessage{
			ConversationID: conv.ID,
			SenderUserID:   &responderID,
			Type:           enums.MessageTypeText,
			Content:        fmt.Sprintf("Offer of %s %s", formatCents(offer.OfferAmountCents), statusVerb(in.Status)),
			CreatedAt:      now,
		}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append response message")
		}

		if in.Status == enums.OfferStatusAccepted {
			payment = &models.ChatMessage{
				ConversationID: conv.ID,
				Type:           enums.MessageTypePendingPayment,
				Content:        fmt.Sprintf("Offer accepted. Complete checkout to pay %s.", formatCents(offer.OfferAmountCents)),
				OfferID:        &offer.ID,
				CreatedAt:      now,
			}
			if err := repo.AppendMessage(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append payment message")
			}

			rejected, err = s.rejectSiblings(ctx, tx, repo, offer, item, now)
			if err != nil {
				return err
			}

			n, err := repo.SetItemStatus(ctx, item.ID, enums.UserItemStatusAvailable, enums.UserItemStatusReserved)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve item")
			}
			if n == 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "item is not available")
			}
		}

		return s.emit(ctx, tx, enums.EventOfferResponded, offer, item.SellerUserID, responderID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OfferOutcome(string(in.Status))
	msgs := []notifications.Message{{
		Kind:       notifications.KindOfferResponded,
		Recipients: []uuid.UUID{offer.BuyerUserID},
		Title:      "Your offer was " + statusVerb(in.Status),
		Body:       msg.Content,
		Data:       map[string]string{"offer_id": offer.ID.String(), "status": string(in.Status)},
	}}
	for _, sib := range rejected {
		msgs = append(msgs, notifications.Message{
			Kind:       notifications.KindOfferResponded,
			Recipients: []uuid.UUID{sib.BuyerUserID},
			Title:      "Your offer was rejected",
			Data:       map[string]string{"offer_id": sib.ID.String(), "status": string(enums.OfferStatusRejected)},
		})
	}
	notifications.Deliver(ctx, s.notifier, s.logg, msgs...)

	out := &RespondResult{Offer: offerDTO(offer), Message: messageDTO(msg)}
	if payment != nil {
		dto := messageDTO(payment)
		out.PaymentMessage = &dto
	}
	return out, nil
}

// rejectSiblings flips every other PENDING offer on the item to REJECTED and
// tells each buyer in their own thread.
func (s *Service) rejectSiblings(ctx context.Context, tx *gorm.DB, repo *Repository, accepted *models.UserItemOffer, item *models.UserItem, now time.Time) ([]models.UserItemOffer, error) {
	siblings, err := repo.PendingSiblings(ctx, item.ID, accepted.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sibling offers")
	}
	rejected := make([]models.UserItemOffer, 0, len(siblings))
	for i := range siblings {
		sib := &siblings[i]
		if err := s.setStatus(ctx, repo, sib, enums.OfferStatusRejected, now); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
				continue
			}
			return nil, err
		}
		if err := s.postSystemText(ctx, repo, item, sib.BuyerUserID, "Another offer on this item was accepted", now); err != nil {
			return nil, err
		}
		if err := s.emit(ctx, tx, enums.EventOfferResponded, sib, item.SellerUserID, item.SellerUserID); err != nil {
			return nil, err
		}
		rejected = append(rejected, *sib)
	}
	return rejected, nil
}

// WithdrawOffer lets the buyer pull a pending offer.
func (s *Service) WithdrawOffer(ctx context.Context, offerID, buyerID uuid.UUID) (dto *OfferDTO, err error) {
	ctx, span := tracing.Start(ctx, "offers.withdraw", attribute.String("offer_id", offerID.String()))
	defer func() { tracing.End(span, err) }()

	var offer *models.UserItemOffer
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		var err error
		offer, err = repo.FindOffer(ctx, offerID)
		if err != nil {
			return notFoundOr(err, "offer not found", "load offer")
		}
		if offer.BuyerUserID != buyerID || offer.Item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
		}
		if offer.Status != enums.OfferStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("offer is %s", offer.Status))
		}
		if err := s.setStatus(ctx, repo, offer, enums.OfferStatusWithdrawn, now); err != nil {
			return err
		}
		conv, err := repo.FindActiveConversation(ctx, offer.ItemID, buyerID, offer.Item.SellerUserID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conversation")
		}
		if conv != nil {
			if err := repo.AppendMessage(ctx, &models.ChatMessage{
				ConversationID: conv.ID,
				SenderUserID:   &buyerID,
				Type:           enums.MessageTypeText,
				Content:        fmt.Sprintf("Offer of %s withdrawn", formatCents(offer.OfferAmountCents)),
				CreatedAt:      now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append withdraw message")
			}
		}
		return s.emit(ctx, tx, enums.EventOfferWithdrawn, offer, offer.Item.SellerUserID, buyerID)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.OfferOutcome(string(enums.OfferStatusWithdrawn))
	out := offerDTO(offer)
	return &out, nil
}

// ExpireOffers moves PENDING offers past valid_until to EXPIRED, one
// transaction per offer. It returns how many offers it expired.
func (s *Service) ExpireOffers(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired offers")
	}
	var (
		expired int
		errs    error
	)
	for i := range due {
		offer := &due[i]
		if offer.Item == nil {
			continue
		}
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if err := s.setStatus(ctx, repo, offer, enums.OfferStatusExpired, now); err != nil {
				return err
			}
			if err := s.postSystemText(ctx, repo, offer.Item, offer.BuyerUserID,
				fmt.Sprintf("Offer of %s expired", formatCents(offer.OfferAmountCents)), now); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventOfferExpired, offer, offer.Item.SellerUserID, uuid.Nil)
		})
		switch {
		case err == nil:
			expired++
			s.metrics.OfferOutcome(string(enums.OfferStatusExpired))
		case pkgerrors.Is(err, pkgerrors.CodeStateConflict):
			// answered between the scan and the update
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire offer %s: %w", offer.ID, err))
		}
	}
	return expired, errs
}

func (s *Service) setStatus(ctx context.Context, repo *Repository, offer *models.UserItemOffer, status enums.OfferStatus, now time.Time) error {
	n, err := repo.SetOfferStatus(ctx, offer.ID, status, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update offer status")
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "offer status changed concurrently")
	}
	offer.Status = status
	offer.RespondedAt = &now
	return nil
}

// postSystemText appends a sender-less TEXT message to the buyer's active
// thread for item, if there is one.
func (s *Service) postSystemText(ctx context.Context, repo *Repository, item *models.UserItem, buyerID uuid.UUID, content string, now time.Time) error {
	conv, err := repo.FindActiveConversation(ctx, item.ID, buyerID, item.SellerUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conversation")
	}
	if err := repo.AppendMessage(ctx, &models.ChatMessage{
		ConversationID: conv.ID,
		Type:           enums.MessageTypeText,
		Content:        content,
		CreatedAt:      now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append message")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, offer *models.UserItemOffer, sellerID, actorID uuid.UUID) error {
	var actor *outbox.ActorRef
	if actorID != uuid.Nil {
		actor = &outbox.ActorRef{UserID: actorID}
	}
	data := payloads.OfferEvent{
		OfferID:          offer.ID,
		ItemID:           offer.ItemID,
		BuyerUserID:      offer.BuyerUserID,
		SellerUserID:     sellerID,
		OfferAmountCents: offer.OfferAmountCents,
		Status:           string(offer.Status),
	}
	if offer.ValidUntil != nil {
		data.ValidUntil = *offer.ValidUntil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOffer,
		AggregateID:   offer.ID,
		Actor:         actor,
		Data:          data,
	})
}

func statusVerb(status enums.OfferStatus) string {
	if status == enums.OfferStatusAccepted {
		return "accepted"
	}
	return "rejected"
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
