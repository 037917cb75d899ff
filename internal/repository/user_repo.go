package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.LoginUser) error
	FindByUsername(ctx context.Context, username string) (*model.LoginUser, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.LoginUser, error)
}

type userRepo struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepo{db: db} }

func (r *userRepo) Create(ctx context.Context, u *model.LoginUser) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*model.LoginUser, error) {
	var u model.LoginUser
	// Accept login by username OR email (case-insensitive email match)
	err := r.db.WithContext(ctx).Preload("Profile").
		Where("(username = ? OR LOWER(email) = LOWER(?)) AND is_active = true", username, username).
		First(&u).Error
	return &u, err
}

func (r *userRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.LoginUser, error) {
	var u model.LoginUser
	err := r.db.WithContext(ctx).Preload("Profile").First(&u, "id = ?", id).Error
	return &u, err
}
