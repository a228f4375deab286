// Package feeconfig stores fee configurations and serves the active one to
// the payment orchestrator.
package feeconfig

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/internal/fees"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox/payloads"
)

const defaultCacheTTL = 30 * time.Second

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
	CacheTTL time.Duration
}

type Service struct {
	repo   *Repository
	tx     txRunner
	outbox outboxPublisher
	roles  roleReader
	ttl    time.Duration
	now    func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	cached   *fees.Config
	cachedAt time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Repo == nil {
		return nil, errors.New("fee configuration repository required")
	}
	if p.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	if p.Roles == nil {
		return nil, errors.New("role reader required")
	}
	ttl := p.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{repo: p.Repo, tx: p.Tx, outbox: p.Outbox, roles: p.Roles, ttl: ttl, now: time.Now}, nil
}

// Active returns the active configuration. Concurrent cache misses share one
// database read. A missing or invalid row is ConfigurationMissing.
func (s *Service) Active(ctx context.Context) (*fees.Config, error) {
	if cfg, ok := s.fromCache(); ok {
		return cfg, nil
	}

	v, err, _ := s.group.Do("active", func() (any, error) {
		if cfg, ok := s.fromCache(); ok {
			return cfg, nil
		}
		row, err := s.repo.FindActive(ctx)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "no active fee configuration")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fee configuration")
		}
		cfg := toConfig(row)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached, s.cachedAt = cfg, s.now()
		s.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*fees.Config), nil
}

func (s *Service) fromCache() (*fees.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil || s.now().Sub(s.cachedAt) > s.ttl {
		return nil, false
	}
	return s.cached, true
}

// Invalidate drops the cached active configuration.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID) ([]FeeConfigurationDTO, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list fee configurations")
	}
	out := make([]FeeConfigurationDTO, 0, len(rows))
	for i := range rows {
		out = append(out, FromModel(&rows[i]))
	}
	return out, nil
}

// Create stores an inactive configuration after validating its split.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in CreateInput) (*FeeConfigurationDTO, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if !in.PayoutSchedule.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout schedule")
	}
	if in.MinimumPayoutCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minimum payout must be non-negative")
	}
	candidate := &fees.Config{
		ID:                    uuid.New(),
		PlatformFeePercentage: in.PlatformFeePercentage,
		ShopFeePercentage:     in.ShopFeePercentage,
		DeliveryFeePercentage: in.DeliveryFeePercentage,
	}
	if err := candidate.Validate(); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, pkgerrors.As(err).Message())
	}

	row := &models.FeeConfiguration{
		PlatformFeePercentage: in.PlatformFeePercentage,
		ShopFeePercentage:     in.ShopFeePercentage,
		DeliveryFeePercentage: in.DeliveryFeePercentage,
		MinimumPayoutCents:    in.MinimumPayoutCents,
		PayoutSchedule:        in.PayoutSchedule,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create fee configuration")
	}
	dto := FromModel(row)
	return &dto, nil
}

// Activate makes id the single active configuration.
func (s *Service) Activate(ctx context.Context, actorID, id uuid.UUID) (*FeeConfigurationDTO, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}

	var activated *models.FeeConfiguration
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "fee configuration not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fee configuration")
		}
		if _, err := repo.Activate(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "activate fee configuration")
		}
		row.IsActive = true
		activated = row

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFeeConfigActivated,
			AggregateType: enums.AggregateFeeConfig,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, Role: string(enums.UserRoleAdmin)},
			Data: payloads.FeeConfigActivatedEvent{
				FeeConfigurationID: row.ID,
				PlatformPercent:    row.PlatformFeePercentage.String(),
				ShopPercent:        row.ShopFeePercentage.String(),
				DeliveryPercent:    row.DeliveryFeePercentage.String(),
				ActivatedBy:        actorID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	dto := FromModel(activated)
	return &dto, nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID uuid.UUID) error {
	role, err := s.roles.RoleOf(ctx, actorID)
	if err != nil {
		return err
	}
	if role != enums.UserRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return nil
}
