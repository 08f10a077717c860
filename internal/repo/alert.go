package repo

import (
	"context"
	"errors"
	"time"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"gorm.io/gorm"
)

var ErrAlertNotFound = errors.New("alert not found")

type AlertRepo interface {
	Create(ctx context.Context, alert entity.Alert) (int64, error)
	FindById(ctx context.Context, id int64) (entity.Alert, error)
	FindByStatus(ctx context.Context, status entity.AlertStatus) ([]entity.Alert, error)
	List(ctx context.Context, req ListAlertsReq) ([]entity.Alert, error)
	// FindTriggeredSince 查询 triggered_at >= since 且仍为 TRIGGERED 的提醒
	FindTriggeredSince(ctx context.Context, since time.Time) ([]entity.Alert, error)
	// FindPendingCreatedBefore 查询 created_at < before 且仍为 PENDING 的提醒
	FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]entity.Alert, error)
	// CompareAndSetStatus 仅当当前状态等于 expected 时才更新, 返回是否更新成功
	CompareAndSetStatus(ctx context.Context, id int64, expected, next entity.AlertStatus, at time.Time) (bool, error)
	// MarkNearNotified 将 PENDING 提醒当前 episode 标记为已通知, 已标记时返回 false
	MarkNearNotified(ctx context.Context, id int64) (bool, error)
	// RearmNear 清除已通知标记并开启新的 episode
	RearmNear(ctx context.Context, id int64) (bool, error)
	// UpdatePending 修改仍为 PENDING 的提醒的目标价、方向、备注, symbol 不可修改
	// 同时开启新的接近通知 episode
	UpdatePending(ctx context.Context, alert entity.Alert) (bool, error)
	Stats(ctx context.Context, since time.Time) (AlertStats, error)
}

type ListAlertsReq struct {
	Status entity.AlertStatus // 为空表示全部
	Symbol string
	Limit  int
}

type SymbolStats struct {
	Total     int64 `json:"total"`
	Triggered int64 `json:"triggered"`
	Executed  int64 `json:"executed"`
}

type AlertStats struct {
	Since    time.Time                    `json:"since"`
	Total    int64                        `json:"total"`
	ByStatus map[entity.AlertStatus]int64 `json:"by_status"`
	BySymbol map[string]SymbolStats       `json:"by_symbol"`
}

// SuccessRate 已执行占比, 百分数
func (s AlertStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ByStatus[entity.AlertStatusExecuted]) / float64(s.Total) * 100
}

type alertRepo struct {
	db *gorm.DB
}

func NewAlertRepo(db *gorm.DB) AlertRepo {
	return &alertRepo{
		db: db,
	}
}

func (r *alertRepo) Create(ctx context.Context, alert entity.Alert) (int64, error) {
	alert.Id = 0
	alert.Status = entity.AlertStatusPending
	alert.TriggeredAt = nil
	alert.ExecutedAt = nil
	alert.CancelledAt = nil
	alert.LastTriggeredAt = nil
	alert.NearNotified = false
	alert.NearEpisode = 0
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return 0, err
	}
	return alert.Id, nil
}

func (r *alertRepo) FindById(ctx context.Context, id int64) (entity.Alert, error) {
	var alert entity.Alert
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return entity.Alert{}, err
	}
	return alert, nil
}

func (r *alertRepo) FindByStatus(ctx context.Context, status entity.AlertStatus) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("id").Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepo) List(ctx context.Context, req ListAlertsReq) ([]entity.Alert, error) {
	query := r.db.WithContext(ctx).Model(&entity.Alert{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Symbol != "" {
		query = query.Where("symbol = ?", req.Symbol)
	}
	if req.Limit > 0 {
		query = query.Limit(req.Limit)
	}
	var alerts []entity.Alert
	if err := query.Order("id DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepo) FindTriggeredSince(ctx context.Context, since time.Time) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := r.db.WithContext(ctx).
		Where("status = ? AND triggered_at >= ?", entity.AlertStatusTriggered, since.UTC()).
		Order("id").
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepo) FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]entity.Alert, error) {
	var alerts []entity.Alert
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", entity.AlertStatusPending, before.UTC()).
		Order("id").
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepo) CompareAndSetStatus(ctx context.Context, id int64, expected, next entity.AlertStatus, at time.Time) (bool, error) {
	updates := map[string]any{
		"status": next,
	}
	switch next {
	case entity.AlertStatusTriggered:
		updates["triggered_at"] = at.UTC()
		updates["near_notified"] = false
	case entity.AlertStatusExecuted:
		updates["executed_at"] = at.UTC()
	case entity.AlertStatusCancelled:
		updates["cancelled_at"] = at.UTC()
		if expected == entity.AlertStatusTriggered {
			// SET 中引用的是更新前的值
			updates["last_triggered_at"] = gorm.Expr("triggered_at")
			updates["triggered_at"] = nil
		}
	}
	res := r.db.WithContext(ctx).
		Model(&entity.Alert{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *alertRepo) MarkNearNotified(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Alert{}).
		Where("id = ? AND status = ? AND near_notified = ?", id, entity.AlertStatusPending, false).
		Update("near_notified", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *alertRepo) RearmNear(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Alert{}).
		Where("id = ? AND status = ? AND near_notified = ?", id, entity.AlertStatusPending, true).
		Updates(map[string]any{
			"near_notified": false,
			"near_episode":  gorm.Expr("near_episode + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *alertRepo) UpdatePending(ctx context.Context, alert entity.Alert) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Alert{}).
		Where("id = ? AND status = ?", alert.Id, entity.AlertStatusPending).
		Updates(map[string]any{
			"target_price":  alert.TargetPrice,
			"direction":     alert.Direction,
			"notes":         alert.Notes,
			"trade_id":      alert.TradeId,
			"near_notified": false,
			"near_episode":  gorm.Expr("near_episode + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *alertRepo) Stats(ctx context.Context, since time.Time) (AlertStats, error) {
	type row struct {
		Symbol string
		Status entity.AlertStatus
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&entity.Alert{}).
		Select("symbol, status, count(*) AS total").
		Where("created_at >= ?", since.UTC()).
		Group("symbol, status").
		Scan(&rows).Error
	if err != nil {
		return AlertStats{}, err
	}

	stats := AlertStats{
		Since:    since.UTC(),
		ByStatus: make(map[entity.AlertStatus]int64),
		BySymbol: make(map[string]SymbolStats),
	}
	for _, item := range rows {
		stats.Total += item.Total
		stats.ByStatus[item.Status] += item.Total

		s := stats.BySymbol[item.Symbol]
		s.Total += item.Total
		switch item.Status {
		case entity.AlertStatusTriggered:
			s.Triggered += item.Total
		case entity.AlertStatusExecuted:
			s.Executed += item.Total
		}
		stats.BySymbol[item.Symbol] = s
	}
	return stats, nil
}
