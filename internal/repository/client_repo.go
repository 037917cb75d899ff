package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClientRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Client, error)
}

type clientRepo struct{ db *gorm.DB }

func NewClientRepository(db *gorm.DB) ClientRepository { return &clientRepo{db: db} }

func (r *clientRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Client, error) {
	var c model.Client
	err := conn(ctx, r.db, tx).Preload("Category").First(&c, "id = ?", id).Error
	return &c, err
}
