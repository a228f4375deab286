// Package inventory guards product stock during checkout. Check reads, Reserve
// and Release write with conditional updates so stock never goes negative.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

// Line is one product quantity request.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// Violation describes why a line cannot be fulfilled.
type Violation struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Reason    string    `json:"reason"`
}

// LowStock reports a product whose stock dropped to or below its threshold
// during a reservation.
type LowStock struct {
	ProductID         uuid.UUID
	ShopID            uuid.UUID
	StockQuantity     int
	LowStockThreshold int
}

const (
	reasonMissing      = "product not found"
	reasonUnavailable  = "product unavailable"
	reasonInsufficient = "insufficient stock"
	reasonQuantity     = "quantity must be positive"
)

type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Check loads every product referenced by lines and returns them keyed by id.
// All violations are collected into the error details.
func (g *Guard) Check(ctx context.Context, tx *gorm.DB, lines []Line) (map[uuid.UUID]models.Product, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no items to reserve")
	}
	merged := merge(lines)

	ids := make([]uuid.UUID, 0, len(merged))
	for _, l := range merged {
		ids = append(ids, l.ProductID)
	}
	var rows []models.Product
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	products := make(map[uuid.UUID]models.Product, len(rows))
	for _, p := range rows {
		products[p.ID] = p
	}

	var violations []Violation
	for _, l := range merged {
		p, ok := products[l.ProductID]
		switch {
		case l.Quantity <= 0:
			violations = append(violations, Violation{ProductID: l.ProductID, Requested: l.Quantity, Reason: reasonQuantity})
		case !ok:
			violations = append(violations, Violation{ProductID: l.ProductID, Requested: l.Quantity, Reason: reasonMissing})
		case !p.IsAvailable:
			violations = append(violations, Violation{ProductID: p.ID, Name: p.Name, Requested: l.Quantity, Available: p.StockQuantity, Reason: reasonUnavailable})
		case l.Quantity > p.StockQuantity:
			violations = append(violations, Violation{ProductID: p.ID, Name: p.Name, Requested: l.Quantity, Available: p.StockQuantity, Reason: reasonInsufficient})
		}
	}
	if len(violations) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").WithDetails(map[string]any{
			"items": violations,
		})
	}
	return products, nil
}

// Reserve decrements stock line by line. A line whose conditional update
// touches no row means another order took the stock after Check; the whole
// reservation fails and the caller's transaction rolls back.
func (g *Guard) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) ([]LowStock, error) {
	var low []LowStock
	for _, l := range merge(lines) {
		if l.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, reasonQuantity)
		}
		res := tx.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ? AND is_available = ? AND stock_quantity >= ?", l.ProductID, true, l.Quantity).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", l.Quantity))
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
		}
		if res.RowsAffected == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("stock changed for product %s", l.ProductID)).
				WithDetails(map[string]any{"product_id": l.ProductID})
		}

		var p models.Product
		if err := tx.WithContext(ctx).
			Select("id", "shop_id", "stock_quantity", "low_stock_threshold").
			First(&p, "id = ?", l.ProductID).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload product")
		}
		before := p.StockQuantity + l.Quantity
		if p.LowStockThreshold > 0 && p.StockQuantity <= p.LowStockThreshold && before > p.LowStockThreshold {
			low = append(low, LowStock{
				ProductID:         p.ID,
				ShopID:            p.ShopID,
				StockQuantity:     p.StockQuantity,
				LowStockThreshold: p.LowStockThreshold,
			})
		}
	}
	return low, nil
}

// Release returns reserved units to stock and reports how many were restored.
func (g *Guard) Release(ctx context.Context, tx *gorm.DB, lines []Line) (int, error) {
	restored := 0
	for _, l := range merge(lines) {
		if l.Quantity <= 0 {
			continue
		}
		res := tx.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ?", l.ProductID).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", l.Quantity))
		if res.Error != nil {
			return restored, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
		}
		if res.RowsAffected > 0 {
			restored += l.Quantity
		}
	}
	return restored, nil
}

// LockProducts takes row locks on Postgres so concurrent checkouts of the same
// products queue behind each other. It is a no-op elsewhere.
func (g *Guard) LockProducts(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range merge(lines) {
		ids = append(ids, l.ProductID)
	}
	var rows []models.Product
	return tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error
}

// merge folds repeated products into one line and orders lines by product id
// so concurrent reservations touch rows in the same order.
func merge(lines []Line) []Line {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		totals[l.ProductID] += l.Quantity
	}
	out := make([]Line, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID.String() < out[j].ProductID.String() })
	return out
}
