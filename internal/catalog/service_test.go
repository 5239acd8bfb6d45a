package catalog

import (
	"context"
	"errors"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Book{}); err != nil {
		t.Fatalf("failed to migrate book schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestServiceCreateAndGet(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, BookInput{Title: "Dune", Author: "Frank Herbert", Genre: "sci-fi"}, "id-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" || created.CreatedBy != "id-1" {
		t.Fatalf("unexpected created record: %+v", created)
	}

	fetched, err := service.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fetched.Title != "Dune" || fetched.Author != "Frank Herbert" {
		t.Fatalf("unexpected record: %+v", fetched)
	}
}

func TestServiceRejectsMissingRequiredFields(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Create(context.Background(), BookInput{Title: "  "}, "id-1"); !errors.Is(err, ErrInvalidBook) {
		t.Fatalf("expected ErrInvalidBook, got %v", err)
	}
}

func TestServiceUpdateAndDelete(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, BookInput{Title: "Dune", Author: "Frank Herbert"}, "id-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := service.Update(ctx, created.ID, BookInput{Title: "Dune Messiah", Author: "Frank Herbert"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Title != "Dune Messiah" {
		t.Fatalf("expected updated title, got %q", updated.Title)
	}

	if err := service.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := service.Get(ctx, created.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound after delete, got %v", err)
	}
	if err := service.Delete(ctx, created.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound on repeat delete, got %v", err)
	}
}

func TestServiceListOrdersByCreation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"First", "Second"} {
		if _, err := service.Create(ctx, BookInput{Title: title, Author: "A"}, "id-1"); err != nil {
			t.Fatalf("create %q failed: %v", title, err)
		}
	}
	books, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("expected two books, got %d", len(books))
	}
}
