package web

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/schedule"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	defaultStatsDays = 7
	maxStatsDays     = 365
	maxNotesLen      = 1000
	// 与接近目标价通知的默认阈值一致
	defaultMinProgress = 80.0
)

// PriceLookup 批量查询最新价格, 由 exchange.PriceFetcher 实现
type PriceLookup interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

type handler struct {
	alerts        repo.AlertRepo
	notifications repo.NotificationLogRepo
	prices        PriceLookup
	transitioner  *alert.Transitioner
	runners       []StatusReporter
}

func (h *handler) register(group *gin.RouterGroup) {
	group.GET("", h.listAlerts)
	group.POST("", h.createAlert)
	group.GET("/stats", h.stats)
	group.GET("/near", h.nearAlerts)
	group.GET("/:id", h.getAlert)
	group.PUT("/:id", h.updateAlert)
	group.DELETE("/:id", h.cancelAlert)
}

type createAlertReq struct {
	Symbol      string          `json:"symbol"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Direction   string          `json:"direction"`
	Notes       string          `json:"notes"`
	TradeId     string          `json:"trade_id"`
}

type alertVO struct {
	Id           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	Direction    string          `json:"direction"`
	Status       string          `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	TradeId      string          `json:"trade_id,omitempty"`
	NearNotified bool            `json:"near_notified"`
	NearEpisode  int             `json:"near_episode"`
	CreatedAt    time.Time       `json:"created_at"`
	TriggeredAt  *time.Time      `json:"triggered_at,omitempty"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	// 从 TRIGGERED 取消的提醒保留原触发时间
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

type notificationVO struct {
	Kind      string    `json:"kind"`
	Episode   int       `json:"episode"`
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type alertDetailVO struct {
	alertVO
	Notifications []notificationVO `json:"notifications"`
}

type nearAlertVO struct {
	alertVO
	CurrentPrice decimal.Decimal `json:"current_price"`
	Progress     float64         `json:"progress"`
}

func toAlertVO(a entity.Alert) alertVO {
	return alertVO{
		Id:           a.Id,
		Symbol:       a.Symbol,
		TargetPrice:  a.TargetPrice,
		Direction:    string(a.Direction),
		Status:       string(a.Status),
		Notes:        a.Notes,
		TradeId:      a.TradeId,
		NearNotified: a.NearNotified,
		NearEpisode:  a.NearEpisode,
		CreatedAt:    a.CreatedAt,
		TriggeredAt:  a.TriggeredAt,
		ExecutedAt:   a.ExecutedAt,
		CancelledAt:  a.CancelledAt,

		LastTriggeredAt: a.LastTriggeredAt,
	}
}

func toNotificationVO(l entity.NotificationLog, _ int) notificationVO {
	return notificationVO{
		Kind:      l.Kind,
		Episode:   l.Episode,
		Channel:   l.Channel,
		Success:   l.Success,
		Error:     l.Error,
		CreatedAt: l.CreatedAt,
	}
}

func (req createAlertReq) toEntity() (entity.Alert, error) {
	symbol := exchange.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return entity.Alert{}, errors.New("symbol is required")
	}
	if !req.TargetPrice.IsPositive() {
		return entity.Alert{}, errors.New("target_price must be greater than 0")
	}
	direction := entity.AlertDirection(strings.ToUpper(strings.TrimSpace(req.Direction)))
	if !direction.Valid() {
		return entity.Alert{}, errors.New("direction must be LONG or SHORT")
	}
	notes := strings.TrimSpace(req.Notes)
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return entity.Alert{}, fmt.Errorf("notes must be at most %d characters", maxNotesLen)
	}
	return entity.Alert{
		Symbol:      symbol,
		TargetPrice: req.TargetPrice,
		Direction:   direction,
		Notes:       notes,
		TradeId:     strings.TrimSpace(req.TradeId),
	}, nil
}

func (h *handler) health(c *gin.Context) {
	statuses := lo.Map(h.runners, func(r StatusReporter, _ int) schedule.Status {
		return r.Status()
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok", "loops": statuses})
}

func (h *handler) listAlerts(c *gin.Context) {
	req := repo.ListAlertsReq{
		Status: entity.AlertStatus(strings.ToUpper(c.Query("status"))),
		Symbol: exchange.NormalizeSymbol(c.Query("symbol")),
		Limit:  defaultListLimit,
	}
	if req.Status != "" && !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		req.Limit = min(limit, maxListLimit)
	}

	alerts, err := h.alerts.List(c.Request.Context(), req)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": lo.Map(alerts, func(a entity.Alert, _ int) alertVO {
		return toAlertVO(a)
	})})
}

func (h *handler) getAlert(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}
	a, err := h.alerts.FindById(c.Request.Context(), id)
	if errors.Is(err, repo.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("failed to get alert", "alert_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	detail := alertDetailVO{alertVO: toAlertVO(a), Notifications: []notificationVO{}}
	if h.notifications != nil {
		logs, err := h.notifications.FindByAlert(c.Request.Context(), id)
		if err != nil {
			slog.Error("failed to load notification history", "alert_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		detail.Notifications = lo.Map(logs, toNotificationVO)
	}
	c.JSON(http.StatusOK, detail)
}

// nearAlerts 进度达到 min_progress 的 PENDING 提醒, 按进度降序
func (h *handler) nearAlerts(c *gin.Context) {
	if h.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price source not configured"})
		return
	}
	minProgress := defaultMinProgress
	if raw := c.Query("min_progress"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_progress must be between 0 and 100"})
			return
		}
		minProgress = v
	}

	ctx := c.Request.Context()
	pending, err := h.alerts.FindByStatus(ctx, entity.AlertStatusPending)
	if err != nil {
		slog.Error("failed to load pending alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	near := make([]nearAlertVO, 0)
	if len(pending) > 0 {
		symbols := lo.Uniq(lo.Map(pending, func(a entity.Alert, _ int) string { return a.Symbol }))
		prices, err := h.prices.Prices(ctx, symbols)
		if err != nil {
			slog.Warn("failed to fetch prices for near alerts", "symbols", len(symbols), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		for _, a := range pending {
			current := prices[a.Symbol]
			eval := alert.Evaluate(a.Direction, a.TargetPrice, current)
			if !eval.PriceAvailable || eval.Progress < minProgress {
				continue
			}
			near = append(near, nearAlertVO{alertVO: toAlertVO(a), CurrentPrice: current, Progress: eval.Progress})
		}
	}
	slices.SortStableFunc(near, func(x, y nearAlertVO) int {
		return cmp.Compare(y.Progress, x.Progress)
	})
	c.JSON(http.StatusOK, gin.H{"alerts": near, "count": len(near), "min_progress": minProgress})
}

// updateAlert 只允许修改 PENDING 提醒的目标价、方向和备注, 修改后重新开始接近通知
func (h *handler) updateAlert(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}
	var req createAlertReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	current, err := h.alerts.FindById(ctx, id)
	if errors.Is(err, repo.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if current.Status != entity.AlertStatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "only PENDING alerts can be updated, alert is " + string(current.Status)})
		return
	}

	if strings.TrimSpace(req.Symbol) == "" {
		req.Symbol = current.Symbol
	}
	a, err := req.toEntity()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if a.Symbol != current.Symbol {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol cannot be changed"})
		return
	}
	a.Id = id

	updated, err := h.alerts.UpdatePending(ctx, a)
	if err != nil {
		slog.Error("failed to update alert", "alert_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !updated {
		c.JSON(http.StatusConflict, gin.H{"error": "alert status changed concurrently, retry"})
		return
	}
	stored, err := h.alerts.FindById(ctx, id)
	if err != nil {
		slog.Error("failed to load updated alert", "alert_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Info("alert updated", "alert_id", id, "symbol", stored.Symbol, "direction", stored.Direction,
		"target", stored.TargetPrice)
	c.JSON(http.StatusOK, toAlertVO(stored))
}

func (h *handler) createAlert(c *gin.Context) {
	var req createAlertReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	a, err := req.toEntity()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id, err := h.alerts.Create(ctx, a)
	if err != nil {
		slog.Error("failed to create alert", "symbol", a.Symbol, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	created, err := h.alerts.FindById(ctx, id)
	if err != nil {
		slog.Error("failed to load created alert", "alert_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Info("alert created", "alert_id", id, "symbol", created.Symbol, "direction", created.Direction,
		"target", created.TargetPrice)
	c.JSON(http.StatusCreated, toAlertVO(created))
}

func (h *handler) cancelAlert(c *gin.Context) {
	id, ok := parseId(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	a, err := h.alerts.FindById(ctx, id)
	if errors.Is(err, repo.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "alert is already " + string(a.Status)})
		return
	}

	cancelled, applied, err := h.transitioner.Cancel(ctx, a)
	if errors.Is(err, alert.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to cancel alert", "alert_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !applied {
		// 与扫描循环竞争失败, 状态已被推进
		c.JSON(http.StatusConflict, gin.H{"error": "alert status changed concurrently, retry"})
		return
	}
	slog.Info("alert cancelled", "alert_id", id, "previous_status", a.Status)
	c.JSON(http.StatusOK, toAlertVO(cancelled))
}

func (h *handler) stats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxStatsDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = n
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := h.alerts.Stats(c.Request.Context(), since)
	if err != nil {
		slog.Error("failed to load alert stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":         days,
		"since":        stats.Since,
		"total":        stats.Total,
		"by_status":    stats.ByStatus,
		"by_symbol":    stats.BySymbol,
		"success_rate": stats.SuccessRate(),
	})
}

func parseId(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return 0, false
	}
	return id, true
}
