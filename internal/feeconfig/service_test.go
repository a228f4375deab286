package feeconfig

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeloop-backend/internal/users"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
)

func newTestService(t *testing.T) (*Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(client.DB()),
		Tx:     client,
		Outbox: outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Roles:  users.NewRepository(client.DB()),
	})
	require.NoError(t, err)
	return svc, client
}

func validInput() CreateInput {
	return CreateInput{
		PlatformFeePercentage: decimal.RequireFromString("12.5"),
		ShopFeePercentage:     decimal.RequireFromString("80.25"),
		DeliveryFeePercentage: decimal.RequireFromString("7.25"),
		MinimumPayoutCents:    1000,
		PayoutSchedule:        enums.PayoutScheduleDaily,
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestActiveWithoutRowIsConfigurationMissing(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Active(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConfiguration))
}

func TestActiveRejectsInvalidStoredSplit(t *testing.T) {
	svc, client := newTestService(t)
	require.NoError(t, client.DB().Create(&models.FeeConfiguration{
		PlatformFeePercentage: decimal.NewFromInt(50),
		ShopFeePercentage:     decimal.NewFromInt(40),
		DeliveryFeePercentage: decimal.NewFromInt(5),
		PayoutSchedule:        enums.PayoutScheduleDaily,
		IsActive:              true,
	}).Error)

	_, err := svc.Active(context.Background())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConfiguration))
}

func TestActiveCachesUntilTTL(t *testing.T) {
	svc, client := newTestService(t)
	seeded := dbtest.ActiveFeeConfig(t, client.DB())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	cfg, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, cfg.ID)

	require.NoError(t, client.DB().Model(&models.FeeConfiguration{}).Where("id = ?", seeded.ID).Update("is_active", false).Error)

	cached, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, cached.ID)

	now = now.Add(defaultCacheTTL + time.Second)
	_, err = svc.Active(context.Background())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConfiguration))
}

func TestActiveConcurrentCallersShareResult(t *testing.T) {
	svc, client := newTestService(t)
	seeded := dbtest.ActiveFeeConfig(t, client.DB())

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := svc.Active(context.Background())
			if err == nil {
				ids[i] = cfg.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, seeded.ID, id)
	}
}

func TestCreateRequiresAdmin(t *testing.T) {
	svc, client := newTestService(t)
	customer := dbtest.User(t, client.DB(), enums.UserRoleCustomer)

	_, err := svc.Create(context.Background(), customer.ID, validInput())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestCreateValidatesSplit(t *testing.T) {
	svc, client := newTestService(t)
	admin := dbtest.User(t, client.DB(), enums.UserRoleAdmin)

	in := validInput()
	in.ShopFeePercentage = decimal.NewFromInt(70)
	_, err := svc.Create(context.Background(), admin.ID, in)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	in = validInput()
	in.PayoutSchedule = "HOURLY"
	_, err = svc.Create(context.Background(), admin.ID, in)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCreateThenActivateSwapsActiveRow(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	admin := dbtest.User(t, client.DB(), enums.UserRoleAdmin)
	previous := dbtest.ActiveFeeConfig(t, client.DB())

	_, err := svc.Active(ctx)
	require.NoError(t, err)

	created, err := svc.Create(ctx, admin.ID, validInput())
	require.NoError(t, err)
	assert.False(t, created.IsActive)

	activated, err := svc.Activate(ctx, admin.ID, created.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	var actives []models.FeeConfiguration
	require.NoError(t, client.DB().Where("is_active = ?", true).Find(&actives).Error)
	require.Len(t, actives, 1)
	assert.Equal(t, created.ID, actives[0].ID)
	assert.NotEqual(t, previous.ID, actives[0].ID)

	cfg, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, cfg.ID, "activation must invalidate the cache")

	var events []models.OutboxEvent
	require.NoError(t, client.DB().Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventFeeConfigActivated, events[0].EventType)
}

func TestActivateUnknownIsNotFound(t *testing.T) {
	svc, client := newTestService(t)
	admin := dbtest.User(t, client.DB(), enums.UserRoleAdmin)

	_, err := svc.Activate(context.Background(), admin.ID, uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
