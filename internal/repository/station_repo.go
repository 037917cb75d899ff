package repository

import (
	"context"

	"retailpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Station, error)
}

type stationRepo struct{ db *gorm.DB }

func NewStationRepository(db *gorm.DB) StationRepository { return &stationRepo{db: db} }

func (r *stationRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Station, error) {
	var s model.Station
	err := r.db.WithContext(ctx).Preload("Branch").First(&s, "id = ? AND is_active = true", id).Error
	return &s, err
}
