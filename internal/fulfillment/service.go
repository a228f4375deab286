// Package fulfillment fans out work for new orders: one task per shop, one
// delivery-assignment task and a delivery opportunity that exactly one
// partner can claim.
package fulfillment

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
	"github.com/angelmondragon/tradeloop-backend/internal/orders"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradeloop-backend/pkg/security"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const (
	metaPickupToken       = "pickup_token"
	metaDeliveryPartnerID = "delivery_partner_id"
	metaDeliveryProfileID = "delivery_profile_id"
	defaultBroadcastTTL   = 30 * time.Minute
)

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
	Repo            *Repository
	Tx              txRunner
	Outbox          outboxPublisher
	Transitioner    *orders.Transitioner
	Roles           roleReader
	Notifier        notifications.Notifier
	Metrics         *metrics.DomainMetrics
	Logger          *logger.Logger
	BroadcastWindow time.Duration
}

type Service struct {
	repo        *Repository
	tx          txRunner
	outbox      outboxPublisher
	transitions *orders.Transitioner
	roles       roleReader
	notifier    notifications.Notifier
	metrics     *metrics.DomainMetrics
	logg        *logger.Logger
	window      time.Duration
	now         func() time.Time
	newToken    func() (string, error)
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Repo == nil:
		return nil, errors.New("fulfillment repository required")
	case p.Tx == nil:
		return nil, errors.New("transaction runner required")
	case p.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case p.Transitioner == nil:
		return nil, errors.New("order transitioner required")
	case p.Roles == nil:
		return nil, errors.New("role reader required")
	}
	window := p.BroadcastWindow
	if window <= 0 {
		window = defaultBroadcastTTL
	}
	return &Service{
		repo:        p.Repo,
		tx:          p.Tx,
		outbox:      p.Outbox,
		transitions: p.Transitioner,
		roles:       p.Roles,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
		logg:        p.Logger,
		window:      window,
		now:         time.Now,
		newToken:    security.NewPickupToken,
	}, nil
}

// Plan creates the fulfillment work for a freshly created order inside the
// order's transaction.
func (s *Service) Plan(ctx context.Context, tx *gorm.DB, order *models.Order) (*orders.FanOut, error) {
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	expiresAt := now.Add(s.window)

	shops, err := repo.ShopOwners(ctx, order.ShopIDs())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shops")
	}
	fan := &orders.FanOut{}
	for _, shop := range shops {
		owner, shopID := shop.OwnerUserID, shop.ID
		task := &models.Task{
			Type:           enums.TaskTypeShopFulfillment,
			Title:          "Prepare order items",
			Status:         enums.TaskStatusTodo,
			Priority:       enums.TaskPriorityNormal,
			AssigneeUserID: &owner,
			OrderID:        &order.ID,
			ShopID:         &shopID,
			Metadata:       map[string]any{"item_count": countItems(order, shopID)},
		}
		if err := s.createTask(ctx, repo, task, order.UserID); err != nil {
			return nil, err
		}
		fan.ShopOwnerIDs = append(fan.ShopOwnerIDs, owner)
	}

	assignment := &models.Task{
		Type:     enums.TaskTypeDeliveryAssignment,
		Title:    "Deliver order",
		Status:   enums.TaskStatusTodo,
		Priority: enums.TaskPriorityHigh,
		OrderID:  &order.ID,
		DueAt:    &expiresAt,
		Metadata: map[string]any{"address_id": order.AddressID.String()},
	}
	if err := s.createTask(ctx, repo, assignment, order.UserID); err != nil {
		return nil, err
	}

	opp := &models.DeliveryOpportunity{
		OrderID:   order.ID,
		Status:    enums.DeliveryOpportunityOpen,
		ExpiresAt: expiresAt,
	}
	if err := repo.CreateOpportunity(ctx, opp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery opportunity")
	}
	fan.OpportunityID = opp.ID

	partners, err := s.addResponses(ctx, repo, opp, order.UserID)
	if err != nil {
		return nil, err
	}
	fan.PartnerUserIDs = partners

	if err := s.emitBroadcast(ctx, tx, opp, partners); err != nil {
		return nil, err
	}
	return fan, nil
}

// addResponses inserts a PENDING response for every active partner that has
// none yet and returns the partners added.
func (s *Service) addResponses(ctx context.Context, repo *Repository, opp *models.DeliveryOpportunity, buyerID uuid.UUID) ([]uuid.UUID, error) {
	profiles, err := repo.ActiveProfiles(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery profiles")
	}
	existing := make(map[uuid.UUID]struct{}, len(opp.Responses))
	for _, r := range opp.Responses {
		existing[r.PartnerUserID] = struct{}{}
	}

	var (
		rows  []models.DeliveryResponse
		added []uuid.UUID
	)
	for _, p := range profiles {
		if p.UserID == buyerID {
			continue
		}
		if _, ok := existing[p.UserID]; ok {
			continue
		}
		rows = append(rows, models.DeliveryResponse{
			OpportunityID:     opp.ID,
			PartnerUserID:     p.UserID,
			DeliveryProfileID: p.ID,
			Decision:          enums.DeliveryDecisionPending,
		})
		added = append(added, p.UserID)
	}
	if err := repo.CreateResponses(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery responses")
	}
	opp.Responses = append(opp.Responses, rows...)
	return added, nil
}

func (s *Service) emitBroadcast(ctx context.Context, tx *gorm.DB, opp *models.DeliveryOpportunity, partners []uuid.UUID) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryBroadcast,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   opp.ID,
		Data: payloads.DeliveryBroadcastEvent{
			OpportunityID: opp.ID,
			OrderID:       opp.OrderID,
			PartnerIDs:    partners,
			ExpiresAt:     opp.ExpiresAt,
		},
	})
}

func (s *Service) createTask(ctx context.Context, repo *Repository, task *models.Task, actorID uuid.UUID) error {
	if err := repo.CreateTask(ctx, task); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create task")
	}
	return repo.AppendHistory(ctx, historyRow(task.ID, "status", "", string(task.Status), actorID))
}

// SyncOrderStatus moves fulfillment tasks along with the order.
func (s *Service) SyncOrderStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, actorID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	open := []enums.TaskStatus{enums.TaskStatusTodo, enums.TaskStatusInProgress, enums.TaskStatusBlocked}

	switch status {
	case enums.OrderStatusPreparationStarted:
		return s.moveTasks(ctx, repo, orderID, []enums.TaskType{enums.TaskTypeShopFulfillment},
			[]enums.TaskStatus{enums.TaskStatusTodo}, enums.TaskStatusInProgress, actorID)
	case enums.OrderStatusReadyForPickup:
		return s.moveTasks(ctx, repo, orderID, []enums.TaskType{enums.TaskTypeShopFulfillment},
			open, enums.TaskStatusCompleted, actorID)
	case enums.OrderStatusDelivered:
		return s.moveTasks(ctx, repo, orderID, []enums.TaskType{enums.TaskTypeDeliveryAssignment},
			open, enums.TaskStatusCompleted, actorID)
	case enums.OrderStatusCancelled:
		if err := s.moveTasks(ctx, repo, orderID, nil, open, enums.TaskStatusCancelled, actorID); err != nil {
			return err
		}
		opp, err := repo.FindOpportunityByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery opportunity")
		}
		now := s.now().UTC()
		if _, err := repo.SetOpportunityStatus(ctx, opp.ID,
			[]enums.DeliveryOpportunityStatus{enums.DeliveryOpportunityOpen, enums.DeliveryOpportunityExpired, enums.DeliveryOpportunityClaimed},
			enums.DeliveryOpportunityCancelled, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel delivery opportunity")
		}
		if _, err := repo.SupersedePending(ctx, opp.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close delivery responses")
		}
	}
	return nil
}

func (s *Service) moveTasks(ctx context.Context, repo *Repository, orderID uuid.UUID, types []enums.TaskType, from []enums.TaskStatus, to enums.TaskStatus, actorID uuid.UUID) error {
	tasks, err := repo.FindTasks(ctx, orderID, types, from)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tasks")
	}
	now := s.now().UTC()
	for _, task := range tasks {
		n, err := repo.UpdateTask(ctx, task.ID, task.Status, map[string]any{"status": to, "updated_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update task")
		}
		if n == 0 {
			continue
		}
		if err := repo.AppendHistory(ctx, historyRow(task.ID, "status", string(task.Status), string(to), actorID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append task history")
		}
	}
	return nil
}

// NotifyDeliveryPartners re-broadcasts an unclaimed opportunity, adding any
// partners who became active since the last broadcast, and returns how many
// partners are still pending.
func (s *Service) NotifyDeliveryPartners(ctx context.Context, orderID, actorID uuid.UUID) (count int, err error) {
	ctx, span := tracing.Start(ctx, "fulfillment.notify_partners", attribute.String("order_id", orderID.String()))
	defer func() { tracing.End(span, err) }()

	var pending []uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		opp, err := repo.FindOpportunityByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery opportunity not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery opportunity")
		}
		switch {
		case opp.ClaimedBy != nil || opp.Status == enums.DeliveryOpportunityClaimed:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery already claimed")
		case opp.Status == enums.DeliveryOpportunityCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery opportunity cancelled")
		}

		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if _, err := s.addResponses(ctx, repo, opp, order.UserID); err != nil {
			return err
		}

		now := s.now().UTC()
		opp.ExpiresAt = now.Add(s.window)
		n, err := repo.Reopen(ctx, opp.ID, opp.ExpiresAt, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen delivery opportunity")
		}
		if n == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery already claimed")
		}

		for _, r := range opp.Responses {
			if r.Decision == enums.DeliveryDecisionPending {
				pending = append(pending, r.PartnerUserID)
			}
		}
		return s.emitBroadcast(ctx, tx, opp, pending)
	})
	if err != nil {
		return 0, err
	}

	notifications.Deliver(ctx, s.notifier, s.logg, notifications.Message{
		Kind:       notifications.KindDeliveryRequested,
		Recipients: pending,
		Title:      "Delivery still available",
		Data:       map[string]string{"order_id": orderID.String(), "requested_by": actorID.String()},
	})
	return len(pending), nil
}

// RespondInput is a partner's answer to a delivery request.
type RespondInput struct {
	OrderID         uuid.UUID
	PartnerID       uuid.UUID
	Accept          bool
	RejectionReason *string
}

type RespondResult struct {
	Accepted    bool   `json:"accepted"`
	PickupToken string `json:"pickup_token,omitempty"`
}

// RespondToDeliveryRequest records a partner's decision. Acceptance claims
// the opportunity with a compare-and-swap, so only the first partner wins.
func (s *Service) RespondToDeliveryRequest(ctx context.Context, in RespondInput) (result *RespondResult, err error) {
	ctx, span := tracing.Start(ctx, "fulfillment.respond",
		attribute.String("order_id", in.OrderID.String()),
		attribute.Bool("accept", in.Accept),
	)
	defer func() { tracing.End(span, err) }()

	role, err := s.roles.RoleOf(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	if role != enums.UserRoleDeliveryPartner {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "delivery partner role required")
	}

	var (
		token   string
		order   *models.Order
		claimed *models.Task
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		profile, err := repo.ActiveProfileForUser(ctx, in.PartnerID)
		if err != nil {
			return notFoundOr(err, "delivery request not found", "load delivery profile")
		}
		opp, err := repo.FindOpportunityByOrder(ctx, in.OrderID)
		if err != nil {
			return notFoundOr(err, "delivery request not found", "load delivery opportunity")
		}
		var response *models.DeliveryResponse
		for i := range opp.Responses {
			if opp.Responses[i].PartnerUserID == in.PartnerID {
				response = &opp.Responses[i]
				break
			}
		}
		if response == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "delivery request not found")
		}
		if response.Decision != enums.DeliveryDecisionPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery request already answered")
		}

		if !in.Accept {
			n, err := repo.Decide(ctx, response.ID, enums.DeliveryDecisionRejected, in.RejectionReason, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record rejection")
			}
			if n == 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery request already answered")
			}
			return nil
		}

		if opp.Status == enums.DeliveryOpportunityOpen && now.After(opp.ExpiresAt) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery request expired")
		}
		n, err := repo.Claim(ctx, opp.ID, in.PartnerID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim delivery")
		}
		if n == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery already claimed")
		}
		if _, err := repo.Decide(ctx, response.ID, enums.DeliveryDecisionAccepted, nil, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record acceptance")
		}
		if _, err := repo.SupersedePending(ctx, opp.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede responses")
		}

		order, err = repo.FindOrder(ctx, in.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		token, err = s.newToken()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup token")
		}
		if _, err := s.transitions.Apply(ctx, tx, orders.TransitionInput{
			OrderID:   order.ID,
			From:      order.Status,
			To:        enums.OrderStatusPickupCompleted,
			ActorID:   &in.PartnerID,
			ActorRole: role,
			Metadata: map[string]any{
				metaPickupToken:       token,
				metaDeliveryPartnerID: in.PartnerID.String(),
				metaDeliveryProfileID: profile.ID.String(),
			},
		}); err != nil {
			return err
		}

		pickup := &models.Task{
			Type:              enums.TaskTypePickupToken,
			Title:             "Collect order with pickup token",
			Status:            enums.TaskStatusTodo,
			Priority:          enums.TaskPriorityHigh,
			AssigneeUserID:    &in.PartnerID,
			OrderID:           &order.ID,
			DeliveryProfileID: &profile.ID,
			Metadata:          map[string]any{metaPickupToken: token},
		}
		if err := s.createTask(ctx, repo, pickup, in.PartnerID); err != nil {
			return err
		}

		claimed, err = s.assignDelivery(ctx, repo, order.ID, in.PartnerID, profile.ID, now)
		if err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryClaimed,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   opp.ID,
			Actor:         &outbox.ActorRef{UserID: in.PartnerID, Role: string(role)},
			Data: payloads.DeliveryClaimedEvent{
				OpportunityID: opp.ID,
				OrderID:       order.ID,
				PartnerUserID: in.PartnerID,
				TaskID:        claimed.ID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if !in.Accept {
		s.metrics.DeliveryResponse("rejected")
		return &RespondResult{Accepted: false}, nil
	}
	s.metrics.DeliveryResponse("accepted")
	s.notifyClaimed(ctx, order, in.PartnerID)
	return &RespondResult{Accepted: true, PickupToken: token}, nil
}

// assignDelivery hands the order's delivery-assignment task to the partner.
func (s *Service) assignDelivery(ctx context.Context, repo *Repository, orderID, partnerID, profileID uuid.UUID, now time.Time) (*models.Task, error) {
	tasks, err := repo.FindTasks(ctx, orderID, []enums.TaskType{enums.TaskTypeDeliveryAssignment},
		[]enums.TaskStatus{enums.TaskStatusTodo, enums.TaskStatusBlocked})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery task")
	}
	if len(tasks) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery task is not open")
	}
	task := tasks[0]
	n, err := repo.UpdateTask(ctx, task.ID, task.Status, map[string]any{
		"status":              enums.TaskStatusInProgress,
		"assignee_user_id":    partnerID,
		"delivery_profile_id": profileID,
		"updated_at":          now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign delivery task")
	}
	if n == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery task changed concurrently")
	}

	var previousAssignee string
	if task.AssigneeUserID != nil {
		previousAssignee = task.AssigneeUserID.String()
	}
	if err := repo.AppendHistory(ctx,
		historyRow(task.ID, "assignee_user_id", previousAssignee, partnerID.String(), partnerID),
		historyRow(task.ID, "status", string(task.Status), string(enums.TaskStatusInProgress), partnerID),
	); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append task history")
	}
	task.Status = enums.TaskStatusInProgress
	task.AssigneeUserID = &partnerID
	return &task, nil
}

func (s *Service) notifyClaimed(ctx context.Context, order *models.Order, partnerID uuid.UUID) {
	shops, err := s.repo.ShopOwners(ctx, order.ShopIDs())
	if err != nil {
		s.logg.Error(ctx, "load shop owners for delivery notice", err)
	}
	recipients := []uuid.UUID{order.UserID}
	for _, shop := range shops {
		recipients = append(recipients, shop.OwnerUserID)
	}
	notifications.Deliver(ctx, s.notifier, s.logg, notifications.Message{
		Kind:       notifications.KindDeliveryClaimed,
		Recipients: recipients,
		Title:      "A delivery partner is on the way",
		Data:       map[string]string{"order_id": order.ID.String(), "partner_id": partnerID.String()},
	})
}

// VerifyDeliveryToken reports whether token is the pickup token recorded when
// the order's delivery was claimed. The first successful check completes the
// partner's pickup task.
func (s *Service) VerifyDeliveryToken(ctx context.Context, orderID uuid.UUID, token string, actorID uuid.UUID) (verified bool, err error) {
	ctx, span := tracing.Start(ctx, "fulfillment.verify_token", attribute.String("order_id", orderID.String()))
	defer func() { tracing.End(span, err) }()

	if token == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "token required")
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		events, err := repo.FindPickupEvents(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pickup events")
		}
		for _, ev := range events {
			stored, _ := ev.Metadata[metaPickupToken].(string)
			if security.TokensEqual(stored, token) {
				verified = true
				break
			}
		}
		if !verified {
			return nil
		}
		return s.moveTasks(ctx, repo, orderID, []enums.TaskType{enums.TaskTypePickupToken},
			[]enums.TaskStatus{enums.TaskStatusTodo, enums.TaskStatusInProgress}, enums.TaskStatusCompleted, actorID)
	})
	if err != nil {
		return false, err
	}
	return verified, nil
}

// ExpireOpportunities marks unclaimed opportunities past their window as
// EXPIRED. NotifyDeliveryPartners can reopen them.
func (s *Service) ExpireOpportunities(ctx context.Context, now time.Time, limit int) (int, error) {
	opps, err := s.repo.ExpiredOpen(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired opportunities")
	}
	var (
		expired int
		errs    error
	)
	for _, opp := range opps {
		opp := opp
		changed := false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := s.repo.WithTx(tx).SetOpportunityStatus(ctx, opp.ID,
				[]enums.DeliveryOpportunityStatus{enums.DeliveryOpportunityOpen},
				enums.DeliveryOpportunityExpired, now)
			if err != nil || n == 0 {
				return err
			}
			changed = true
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventDeliveryExpired,
				AggregateType: enums.AggregateDelivery,
				AggregateID:   opp.ID,
				Data:          payloads.DeliveryExpiredEvent{OpportunityID: opp.ID, OrderID: opp.OrderID},
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire opportunity %s: %w", opp.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, errs
}

func historyRow(taskID uuid.UUID, field, from, to string, actorID uuid.UUID) models.TaskHistory {
	row := models.TaskHistory{TaskID: taskID, Field: field, ToValue: &to}
	if from != "" {
		row.FromValue = &from
	}
	if actorID != uuid.Nil {
		actor := actorID
		row.ChangedByUserID = &actor
	}
	return row
}

func countItems(order *models.Order, shopID uuid.UUID) int {
	n := 0
	for _, item := range order.Items {
		if item.ShopID == shopID {
			n += item.Quantity
		}
	}
	return n
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
