package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrBookNotFound indicates no catalog entry matched the id.
	ErrBookNotFound = errors.New("catalog: book not found")
	// ErrInvalidBook indicates required fields were missing.
	ErrInvalidBook = errors.New("catalog: title and author are required")
)

// BookInput carries caller-supplied fields for create and update.
type BookInput struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
	Genre  string `json:"genre"`
}

// ServiceConfig describes the dependencies of the catalog service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	NewID    func() string
	Clock    func() time.Time
}

// Service implements the book resource over the shared database.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	newID  func() string
	clock  func() time.Time
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("catalog: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, logger: logger, newID: newID, clock: clock}, nil
}

// List returns all catalog entries ordered by creation time.
func (s *Service) List(ctx context.Context) ([]Book, error) {
	var books []Book
	err := s.db.WithContext(ctx).Order("created_at").Find(&books).Error
	return books, err
}

// Get returns a single entry by id.
func (s *Service) Get(ctx context.Context, id string) (Book, error) {
	var book Book
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, ErrBookNotFound
	}
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// Create inserts a new entry owned by the given identity.
func (s *Service) Create(ctx context.Context, input BookInput, createdBy string) (Book, error) {
	if err := validateInput(input); err != nil {
		return Book{}, err
	}
	book := Book{
		ID:        s.newID(),
		Title:     strings.TrimSpace(input.Title),
		Author:    strings.TrimSpace(input.Author),
		ISBN:      strings.TrimSpace(input.ISBN),
		Genre:     strings.TrimSpace(input.Genre),
		CreatedBy: createdBy,
		CreatedAt: s.clock(),
		UpdatedAt: s.clock(),
	}
	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		return Book{}, err
	}
	s.logger.Info("book created", zap.String("book_id", book.ID))
	return book, nil
}

// Update replaces the caller-supplied fields of an existing entry.
func (s *Service) Update(ctx context.Context, id string, input BookInput) (Book, error) {
	if err := validateInput(input); err != nil {
		return Book{}, err
	}
	book, err := s.Get(ctx, id)
	if err != nil {
		return Book{}, err
	}
	updates := map[string]interface{}{
		"title":      strings.TrimSpace(input.Title),
		"author":     strings.TrimSpace(input.Author),
		"isbn":       strings.TrimSpace(input.ISBN),
		"genre":      strings.TrimSpace(input.Genre),
		"updated_at": s.clock(),
	}
	if err := s.db.WithContext(ctx).Model(&Book{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return Book{}, err
	}
	return s.Get(ctx, book.ID)
}

// Delete removes an entry by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Book{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBookNotFound
	}
	return nil
}

func validateInput(input BookInput) error {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Author) == "" {
		return ErrInvalidBook
	}
	return nil
}
