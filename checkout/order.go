package checkout

import (
	"errors"
	"fmt"

	"github.com/n9te9/kinabalu/subgraph"
)

// Order is a purchase owned by one user. It exclusively owns its line items.
type Order struct {
	ID        int64      `gorm:"primaryKey"`
	UserID    int64      `gorm:"column:user_id;index;not null"`
	Cost      float64    `gorm:"not null"`
	LineItems []LineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string { return "orders" }

// LineItem points at a catalog product by its bare id. The catalog is another
// service, so nothing enforces that the product exists.
type LineItem struct {
	ID        int64 `gorm:"primaryKey"`
	OrderID   int64 `gorm:"index;not null"`
	ProductID int64 `gorm:"index;not null"`
}

func (LineItem) TableName() string { return "order_line_items" }

// ProductRef is a product known only by id. The gateway completes it from the catalog.
type ProductRef struct {
	ID int64
}

// Models lists the tables checkout migrates.
func Models() []any {
	return []any{&Order{}, &LineItem{}}
}

var (
	ErrUnauthenticated     = subgraph.NewError(subgraph.CodeUnauthenticated, "Only logged in users can place orders")
	ErrProductLookupFailed = subgraph.NewError(subgraph.CodeInternal, "Unable to look up products")
	ErrInvalidProduct      = errors.New("invalid product")
)

// InvalidProductError reports a product id the catalog does not know.
type InvalidProductError struct {
	ID int64
}

func (e *InvalidProductError) Error() string {
	return fmt.Sprintf("The product %d is not valid", e.ID)
}

func (e *InvalidProductError) ErrorCode() string { return subgraph.CodeBadUserInput }

func (e *InvalidProductError) Is(target error) bool { return target == ErrInvalidProduct }
