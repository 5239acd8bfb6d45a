package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no Identity matched the lookup key.
	ErrNotFound = errors.New("identity: not found")
	// ErrDuplicateKey indicates a write violated the email or external id
	// uniqueness constraint. Callers treat it as "someone else got there
	// first" and re-read.
	ErrDuplicateKey = errors.New("identity: duplicate key")
)

// Store is the persistence contract for Identity records. Uniqueness of
// email and external_id is enforced by the implementation; Insert and
// UpdateFields report violations as ErrDuplicateKey.
type Store interface {
	FindByID(ctx context.Context, id string) (Identity, error)
	FindByExternalID(ctx context.Context, externalID string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	Insert(ctx context.Context, record Identity) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
}

// GormStore implements Store on the shared gorm connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps the provided database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *GormStore) FindByExternalID(ctx context.Context, externalID string) (Identity, error) {
	return s.findOne(ctx, "external_id = ?", externalID)
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *GormStore) findOne(ctx context.Context, query string, arg string) (Identity, error) {
	var record Identity
	err := s.db.WithContext(ctx).Where(query, arg).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return record, nil
}

func (s *GormStore) Insert(ctx context.Context, record Identity) error {
	err := s.db.WithContext(ctx).Create(&record).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

func (s *GormStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("id = ?", id).
		Updates(fields).
		Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// isUniqueViolation covers both gorm's translated error and the raw sqlite
// message, since TranslateError depends on driver support.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
