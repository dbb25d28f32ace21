package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
)

// UserDTO is the transport shape that omits credentials.
type UserDTO struct {
	ID          uuid.UUID     `json:"id"`
	Email       string        `json:"email"`
	FullName    string        `json:"full_name"`
	Phone       *string       `json:"phone,omitempty"`
	Role        enums.AppRole `json:"role"`
	LastLoginAt *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CreateUserDTO holds what the repo needs to persist a user with profile and role.
type CreateUserDTO struct {
	Email        string
	PasswordHash string
	FullName     string
	Phone        *string
	Role         enums.AppRole
}

// Account is a user joined with its profile and role.
type Account struct {
	User    models.User
	Profile *models.Profile
	Role    enums.AppRole
}

func FromAccount(a *Account) *UserDTO {
	if a == nil {
		return nil
	}
	dto := &UserDTO{
		ID:          a.User.ID,
		Email:       a.User.Email,
		Role:        a.Role,
		LastLoginAt: a.User.LastLoginAt,
		CreatedAt:   a.User.CreatedAt,
	}
	if a.Profile != nil {
		dto.FullName = a.Profile.FullName
		dto.Phone = a.Profile.Phone
	}
	return dto
}
