package repo

import (
	"context"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"gorm.io/gorm"
)

type NotificationLogRepo interface {
	Create(ctx context.Context, log entity.NotificationLog) error
	FindByAlert(ctx context.Context, alertId int64) ([]entity.NotificationLog, error)
}

type notificationLogRepo struct {
	db *gorm.DB
}

func NewNotificationLogRepo(db *gorm.DB) NotificationLogRepo {
	return &notificationLogRepo{
		db: db,
	}
}

func (r *notificationLogRepo) Create(ctx context.Context, log entity.NotificationLog) error {
	return r.db.WithContext(ctx).Create(&log).Error
}

func (r *notificationLogRepo) FindByAlert(ctx context.Context, alertId int64) ([]entity.NotificationLog, error) {
	var logs []entity.NotificationLog
	err := r.db.WithContext(ctx).Where("alert_id = ?", alertId).Order("id").Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
