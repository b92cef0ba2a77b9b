package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/kinabalu/store"
	"gorm.io/gorm"
)

type shelf struct {
	ID    int64  `gorm:"primaryKey"`
	Label string `gorm:"uniqueIndex;not null"`
	Books []book `gorm:"foreignKey:ShelfID;constraint:OnDelete:CASCADE"`
}

type book struct {
	ID      int64 `gorm:"primaryKey"`
	ShelfID int64 `gorm:"index;not null"`
	Title   string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })

	if err := store.Migrate(ctx, db, &shelf{}, &book{}); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestRepository_SaveWithChildren(t *testing.T) {
	ctx := context.Background()
	repo := store.NewRepository[shelf](openTestDB(t))

	s := &shelf{Label: "fiction", Books: []book{{Title: "Dune"}, {Title: "Solaris"}}}
	if err := repo.SaveWithChildren(ctx, s); err != nil {
		t.Fatalf("SaveWithChildren: %v", err)
	}
	if s.ID == 0 {
		t.Fatal("expected generated id")
	}

	got, err := repo.Get(ctx, s.ID, "Books")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	want := &shelf{
		ID:    s.ID,
		Label: "fiction",
		Books: []book{
			{ID: s.Books[0].ID, ShelfID: s.ID, Title: "Dune"},
			{ID: s.Books[1].ID, ShelfID: s.ID, Title: "Solaris"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shelf mismatch (-want +got):\n%s", diff)
	}
}

func TestRepository_SaveWithChildrenRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewRepository[shelf](db)

	if err := repo.Create(ctx, &shelf{Label: "taken"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := repo.SaveWithChildren(ctx, &shelf{Label: "taken", Books: []book{{Title: "Lost"}}})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	var count int64
	if err := db.Model(&book{}).Count(&count).Error; err != nil {
		t.Fatalf("count books: %v", err)
	}
	if count != 0 {
		t.Errorf("books = %d, want 0", count)
	}
}

func TestRepository_GetNotFound(t *testing.T) {
	repo := store.NewRepository[shelf](openTestDB(t))

	_, err := repo.Get(context.Background(), 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRepository_FindAndFindByIDs(t *testing.T) {
	ctx := context.Background()
	repo := store.NewRepository[shelf](openTestDB(t))

	for _, label := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, &shelf{Label: label}); err != nil {
			t.Fatalf("Create %s: %v", label, err)
		}
	}

	tests := []struct {
		name string
		run  func() ([]shelf, error)
		want []string
	}{
		{
			name: "all",
			run:  func() ([]shelf, error) { return repo.Find(ctx, nil) },
			want: []string{"a", "b", "c"},
		},
		{
			name: "filtered",
			run:  func() ([]shelf, error) { return repo.Find(ctx, map[string]any{"label": "b"}) },
			want: []string{"b"},
		},
		{
			name: "by ids skips unknown",
			run:  func() ([]shelf, error) { return repo.FindByIDs(ctx, []int64{3, 1, 42}) },
			want: []string{"a", "c"},
		},
		{
			name: "no ids",
			run:  func() ([]shelf, error) { return repo.FindByIDs(ctx, nil) },
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			labels := []string{}
			for _, s := range got {
				labels = append(labels, s.Label)
			}
			if diff := cmp.Diff(tt.want, labels); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := store.Open(context.Background(), store.Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
