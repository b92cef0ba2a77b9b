package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/store"
	"gorm.io/gorm"
)

// Linker owns orders and stitches them to catalog products by bare id.
// Every read is scoped to the caller; without an identity reads come back empty.
type Linker struct {
	orders  *store.Repository[Order]
	catalog ProductLookup
}

func NewLinker(db *gorm.DB, catalog ProductLookup) *Linker {
	return &Linker{
		orders:  store.NewRepository[Order](db),
		catalog: catalog,
	}
}

// PlaceOrder bills the caller for productIDs. Either the order and all its line items
// are stored or nothing is.
func (l *Linker) PlaceOrder(ctx context.Context, claims *auth.Claims, productIDs []int64) (*Order, error) {
	uid, ok := claims.UserID()
	if !ok {
		return nil, ErrUnauthenticated
	}

	products, err := l.catalog.ProductsByIDs(ctx, unique(productIDs))
	if err != nil {
		logger().ErrorContext(ctx, "product lookup failed",
			"operation", "place_order",
			"outcome", "failure",
			"user_id", uid,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("%w: %w", ErrProductLookupFailed, err)
	}

	prices := make(map[int64]float64, len(products))
	for _, p := range products {
		prices[p.ID] = p.Price
	}

	order := &Order{UserID: uid, LineItems: make([]LineItem, 0, len(productIDs))}
	for _, id := range productIDs {
		price, ok := prices[id]
		if !ok {
			return nil, &InvalidProductError{ID: id}
		}
		order.Cost += price
		order.LineItems = append(order.LineItems, LineItem{ProductID: id})
	}

	if err := l.orders.SaveWithChildren(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	logger().InfoContext(ctx, "order placed",
		"operation", "place_order",
		"outcome", "success",
		"user_id", uid,
		"order_id", order.ID,
		"line_items", len(order.LineItems),
	)
	return order, nil
}

// GetOrder returns the caller's order with id, or nil when it does not exist or
// belongs to someone else.
func (l *Linker) GetOrder(ctx context.Context, claims *auth.Claims, id int64) (*Order, error) {
	uid, ok := claims.UserID()
	if !ok {
		return nil, nil
	}

	orders, err := l.orders.Find(ctx, map[string]any{"id": id, "user_id": uid}, "LineItems")
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (l *Linker) ListOrders(ctx context.Context, claims *auth.Claims) ([]Order, error) {
	uid, ok := claims.UserID()
	if !ok {
		return []Order{}, nil
	}

	orders, err := l.orders.Find(ctx, map[string]any{"user_id": uid}, "LineItems")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// OrderProducts maps the line items of order to product references, one per line
// item. Only the owner sees them.
func (l *Linker) OrderProducts(claims *auth.Claims, order *Order) []ProductRef {
	uid, ok := claims.UserID()
	if !ok || order.UserID != uid {
		return []ProductRef{}
	}

	refs := make([]ProductRef, len(order.LineItems))
	for i, li := range order.LineItems {
		refs[i] = ProductRef{ID: li.ProductID}
	}
	return refs
}

// ProductOrders returns the caller's orders that contain productID.
func (l *Linker) ProductOrders(ctx context.Context, claims *auth.Claims, productID int64) ([]Order, error) {
	uid, ok := claims.UserID()
	if !ok {
		return []Order{}, nil
	}

	db := l.orders.DB(ctx)
	containing := db.Model(&LineItem{}).Select("order_id").Where("product_id = ?", productID)

	orders := []Order{}
	err := db.Preload("LineItems").
		Where("user_id = ? AND id IN (?)", uid, containing).
		Order("id").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("orders of product %d: %w", productID, err)
	}
	return orders, nil
}

func unique(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func logger() *slog.Logger {
	return slog.Default().With("module", "checkout")
}
