// Package bootstrap assembles the domain services shared by the api and
// cron-worker binaries from already-opened infrastructure clients.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/tradeloop-backend/internal/feeconfig"
	"github.com/angelmondragon/tradeloop-backend/internal/fulfillment"
	"github.com/angelmondragon/tradeloop-backend/internal/inventory"
	"github.com/angelmondragon/tradeloop-backend/internal/ledger"
	"github.com/angelmondragon/tradeloop-backend/internal/notifications"
	"github.com/angelmondragon/tradeloop-backend/internal/offers"
	"github.com/angelmondragon/tradeloop-backend/internal/orders"
	"github.com/angelmondragon/tradeloop-backend/internal/payments"
	"github.com/angelmondragon/tradeloop-backend/internal/users"
	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
)

type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Gateway  payments.Gateway
	Notifier notifications.Notifier
	Metrics  *metrics.DomainMetrics
}

type Services struct {
	Outbox      *outbox.Service
	Users       *users.Repository
	FeeConfigs  *feeconfig.Service
	Fulfillment *fulfillment.Service
	Orders      orders.Service
	Offers      *offers.Service
	Payments    *payments.Service
}

// New wires every domain service in dependency order. Notifier and Metrics
// may be nil; everything else is required.
func New(p Params) (*Services, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config required")
	case p.DB == nil:
		return nil, errors.New("database client required")
	case p.Gateway == nil:
		return nil, errors.New("payment gateway required")
	}

	gdb := p.DB.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), p.Logger)
	userRepo := users.NewRepository(gdb)

	transitioner, err := orders.NewTransitioner(outboxSvc, p.Metrics)
	if err != nil {
		return nil, fmt.Errorf("transitioner: %w", err)
	}

	feeSvc, err := feeconfig.NewService(feeconfig.ServiceParams{
		Repo:   feeconfig.NewRepository(gdb),
		Tx:     p.DB,
		Outbox: outboxSvc,
		Roles:  userRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("fee configuration service: %w", err)
	}

	fulfillmentSvc, err := fulfillment.NewService(fulfillment.ServiceParams{
		Repo:            fulfillment.NewRepository(gdb),
		Tx:              p.DB,
		Outbox:          outboxSvc,
		Transitioner:    transitioner,
		Roles:           userRepo,
		Notifier:        p.Notifier,
		Metrics:         p.Metrics,
		Logger:          p.Logger,
		BroadcastWindow: p.Config.Checkout.DeliveryBroadcastWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("fulfillment service: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(gdb),
		Tx:           p.DB,
		Outbox:       outboxSvc,
		Transitioner: transitioner,
		Inventory:    inventory.NewGuard(),
		Users:        userRepo,
		Fulfillment:  fulfillmentSvc,
		Notifier:     p.Notifier,
		Checkout:     p.Config.Checkout,
		Logger:       p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	offerSvc, err := offers.NewService(offers.ServiceParams{
		Repo:          offers.NewRepository(gdb),
		Tx:            p.DB,
		Outbox:        outboxSvc,
		Roles:         userRepo,
		Notifier:      p.Notifier,
		Metrics:       p.Metrics,
		Logger:        p.Logger,
		TTL:           p.Config.Offers.TTL,
		EnforceExpiry: p.Config.FeatureFlags.EnforceOfferExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("offer service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gdb))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:             payments.NewRepository(gdb),
		Tx:               p.DB,
		Outbox:           outboxSvc,
		Gateway:          p.Gateway,
		Fees:             feeSvc,
		Users:            userRepo,
		Ledger:           ledgerSvc,
		Transitioner:     transitioner,
		Notifier:         p.Notifier,
		Metrics:          p.Metrics,
		Logger:           p.Logger,
		Currency:         p.Config.Checkout.Currency,
		ShippingFeeCents: p.Config.P2P.ShippingFeeCents,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	return &Services{
		Outbox:      outboxSvc,
		Users:       userRepo,
		FeeConfigs:  feeSvc,
		Fulfillment: fulfillmentSvc,
		Orders:      orderSvc,
		Offers:      offerSvc,
		Payments:    paymentSvc,
	}, nil
}
