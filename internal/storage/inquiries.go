package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/model"
)

var (
	// ErrInquiryNotFound indicates no inquiry exists for the requested identifier.
	ErrInquiryNotFound = errors.New("storage: inquiry not found")
	// ErrAdminGrantExists indicates the session already completed privilege elevation.
	ErrAdminGrantExists = errors.New("storage: admin grant exists")
)

// InquiryRepository persists inquiries and admin grants.
type InquiryRepository struct {
	database *gorm.DB
	now      func() time.Time
}

// NewInquiryRepository wraps the database handle.
func NewInquiryRepository(database *gorm.DB) *InquiryRepository {
	return &InquiryRepository{database: database, now: time.Now}
}

// Create stores the inquiry; the database assigns ID and CreatedAt.
func (repository *InquiryRepository) Create(ctx context.Context, inquiry *model.Inquiry) error {
	inquiry.ID = 0
	inquiry.Read = false
	if err := repository.database.WithContext(ctx).Create(inquiry).Error; err != nil {
		return fmt.Errorf("storage: create inquiry: %w", err)
	}
	return nil
}

// List returns every inquiry, newest first.
func (repository *InquiryRepository) List(ctx context.Context) ([]model.Inquiry, error) {
	var inquiries []model.Inquiry
	if err := repository.database.WithContext(ctx).Order("created_at desc, id desc").Find(&inquiries).Error; err != nil {
		return nil, fmt.Errorf("storage: list inquiries: %w", err)
	}
	return inquiries, nil
}

// Get loads one inquiry.
func (repository *InquiryRepository) Get(ctx context.Context, identifier uint64) (model.Inquiry, error) {
	var inquiry model.Inquiry
	if err := repository.database.WithContext(ctx).First(&inquiry, "id = ?", identifier).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Inquiry{}, ErrInquiryNotFound
		}
		return model.Inquiry{}, fmt.Errorf("storage: load inquiry: %w", err)
	}
	return inquiry, nil
}

// SetRead updates only the read flag.
func (repository *InquiryRepository) SetRead(ctx context.Context, identifier uint64, read bool) error {
	result := repository.database.WithContext(ctx).Model(&model.Inquiry{}).
		Where("id = ?", identifier).
		Update("read", read)
	if result.Error != nil {
		return fmt.Errorf("storage: update inquiry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInquiryNotFound
	}
	return nil
}

// Delete removes the inquiry.
func (repository *InquiryRepository) Delete(ctx context.Context, identifier uint64) error {
	result := repository.database.WithContext(ctx).Delete(&model.Inquiry{}, "id = ?", identifier)
	if result.Error != nil {
		return fmt.Errorf("storage: delete inquiry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInquiryNotFound
	}
	return nil
}

// CountUnread returns how many inquiries have not been read.
func (repository *InquiryRepository) CountUnread(ctx context.Context) (int64, error) {
	var count int64
	if err := repository.database.WithContext(ctx).Model(&model.Inquiry{}).Where("read = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("storage: count inquiries: %w", err)
	}
	return count, nil
}

// GrantAdmin records the session as elevated and prunes lapsed grants.
// A repeated grant for a live session reports ErrAdminGrantExists.
func (repository *InquiryRepository) GrantAdmin(ctx context.Context, grant model.AdminGrant) error {
	validated, grantErr := model.NewAdminGrant(grant.SessionID, grant.Principal, grant.ExpiresAt)
	if grantErr != nil {
		return grantErr
	}
	now := repository.now().UTC()
	return repository.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("expires_at <= ?", now).Delete(&model.AdminGrant{}).Error; err != nil {
			return fmt.Errorf("storage: prune admin grants: %w", err)
		}
		var existing int64
		if err := transaction.Model(&model.AdminGrant{}).Where("session_id = ?", validated.SessionID).Count(&existing).Error; err != nil {
			return fmt.Errorf("storage: load admin grant: %w", err)
		}
		if existing > 0 {
			return ErrAdminGrantExists
		}
		if err := transaction.Create(&validated).Error; err != nil {
			return fmt.Errorf("storage: create admin grant: %w", err)
		}
		return nil
	})
}

// IsAdmin reports whether the session holds a live grant.
func (repository *InquiryRepository) IsAdmin(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	query := repository.database.WithContext(ctx).Model(&model.AdminGrant{}).
		Where("session_id = ? AND expires_at > ?", sessionID, repository.now().UTC())
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("storage: load admin grant: %w", err)
	}
	return count > 0, nil
}

// Ping verifies the database connection is usable.
func (repository *InquiryRepository) Ping(ctx context.Context) error {
	sqlDatabase, sqlErr := repository.database.DB()
	if sqlErr != nil {
		return sqlErr
	}
	return sqlDatabase.PingContext(ctx)
}
