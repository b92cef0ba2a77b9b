package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/n9te9/kinabalu/store"
	"gorm.io/gorm"
)

// Product is the catalog's authoritative record of something that can be ordered.
type Product struct {
	ID    int64   `gorm:"primaryKey"`
	Name  string  `gorm:"not null"`
	Price float64 `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// Models lists the tables the catalog migrates.
func Models() []any {
	return []any{&Product{}}
}

// Service reads and writes products.
type Service struct {
	products *store.Repository[Product]
}

func NewService(db *gorm.DB) *Service {
	return &Service{products: store.NewRepository[Product](db)}
}

// Product returns the product with id, or nil when there is none.
func (s *Service) Product(ctx context.Context, id int64) (*Product, error) {
	p, err := s.products.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (s *Service) Products(ctx context.Context) ([]Product, error) {
	products, err := s.products.Find(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// ProductsByIDs returns the known products among ids. Unknown ids are skipped, so
// callers compare the result against what they asked for.
func (s *Service) ProductsByIDs(ctx context.Context, ids []int64) ([]Product, error) {
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	return products, nil
}

// AddProduct stores a new product.
func (s *Service) AddProduct(ctx context.Context, name string, price float64) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("product name is required")
	}
	if price < 0 {
		return nil, fmt.Errorf("price %v must not be negative", price)
	}

	p := &Product{Name: name, Price: price}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	logger().InfoContext(ctx, "product added",
		"operation", "add_product",
		"outcome", "success",
		"product_id", p.ID,
	)
	return p, nil
}

func logger() *slog.Logger {
	return slog.Default().With("module", "catalog")
}
