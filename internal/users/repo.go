package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
)

// Repository exposes user, profile and role persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the user, its profile and its role in one transaction.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*Account, error) {
	role := dto.Role
	if role == "" {
		role = enums.AppRoleCustomer
	}
	account := &Account{
		User: models.User{
			Email:        dto.Email,
			PasswordHash: dto.PasswordHash,
		},
		Role: role,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account.User).Error; err != nil {
			return err
		}
		profile := models.Profile{UserID: account.User.ID, FullName: dto.FullName, Phone: dto.Phone}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}
		account.Profile = &profile
		return tx.Create(&models.UserRole{UserID: account.User.ID, Role: role}).Error
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindAccount loads a user with profile and role. The highest role wins when a
// user holds several.
func (r *Repository) FindAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	account := &Account{User: user}

	var profile models.Profile
	err := r.db.WithContext(ctx).First(&profile, "user_id = ?", id).Error
	switch {
	case err == nil:
		account.Profile = &profile
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	role, err := r.FindRole(ctx, id)
	if err != nil {
		return nil, err
	}
	account.Role = role
	return account, nil
}

// FindRole resolves the effective role of a user; users without a row are customers.
func (r *Repository) FindRole(ctx context.Context, id uuid.UUID) (enums.AppRole, error) {
	var roles []models.UserRole
	if err := r.db.WithContext(ctx).Where("user_id = ?", id).Find(&roles).Error; err != nil {
		return "", err
	}
	role := enums.AppRoleCustomer
	for _, row := range roles {
		if row.Role == enums.AppRoleAdmin {
			return enums.AppRoleAdmin, nil
		}
	}
	return role, nil
}

// GrantRole adds role to the user if missing.
func (r *Repository) GrantRole(ctx context.Context, id uuid.UUID, role enums.AppRole) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("user_id = ? AND role = ?", id, role).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&models.UserRole{UserID: id, Role: role}).Error
}

// UpdateLastLogin refreshes the user's last_login_at timestamp.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}

// UpdatePasswordHash swaps the stored hash, used when cost settings change.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("password_hash", hash).Error
}
