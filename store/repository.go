package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Repository is the persistence collaborator of one entity type.
// Every model it serves has an integer primary key column named id.
type Repository[T any] struct {
	db *gorm.DB
}

func NewRepository[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

// DB returns the handle bound to ctx for queries the generic methods do not cover.
func (r *Repository[T]) DB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Get loads the record with the given primary key.
func (r *Repository[T]) Get(ctx context.Context, id int64, preload ...string) (*T, error) {
	var v T
	q := r.db.WithContext(ctx)
	for _, p := range preload {
		q = q.Preload(p)
	}
	if err := q.First(&v, id).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// Find returns all records whose columns equal filter, ordered by id.
func (r *Repository[T]) Find(ctx context.Context, filter map[string]any, preload ...string) ([]T, error) {
	var out []T
	q := r.db.WithContext(ctx)
	for _, p := range preload {
		q = q.Preload(p)
	}
	if len(filter) > 0 {
		q = q.Where(filter)
	}
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// FindByIDs returns the records whose primary key is in ids, ordered by id.
func (r *Repository[T]) FindByIDs(ctx context.Context, ids []int64) ([]T, error) {
	out := []T{}
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Create inserts v and fills in its generated primary key.
func (r *Repository[T]) Create(ctx context.Context, v *T) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(v).Error; err != nil {
		return translate(err)
	}
	return nil
}

// SaveWithChildren inserts v together with its has-many children in one transaction.
// Either every row is written or none is.
func (r *Repository[T]) SaveWithChildren(ctx context.Context, v *T) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(v).Error
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	default:
		return err
	}
}
