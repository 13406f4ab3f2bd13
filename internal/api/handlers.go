package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatkeeper/internal/apperr"
	"chatkeeper/internal/models"
	"chatkeeper/internal/service/article"
	"chatkeeper/internal/service/history"
	"chatkeeper/internal/service/ledger"
	"chatkeeper/internal/service/reminder"
	"chatkeeper/internal/whitelist"
)

// ArticleSource returns the newest article. *article.Fetcher implements it.
type ArticleSource interface {
	Latest(ctx context.Context) (*models.Article, error)
}

// Pinger is checked by /healthz in addition to the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to the stores, the whitelist and the article
// fetcher. Stores are built per request on top of the request's DB scope.
type Handler struct {
	db       *sql.DB
	filter   *whitelist.Filter
	articles ArticleSource
	cache    Pinger
	logger   *zap.Logger

	historyLimit int
	loc          *time.Location
	now          func() time.Time
}

type Option func(*Handler)

// WithHistoryLimit lowers the number of messages returned per chat.
// Values above history.DefaultLimit are clamped to it.
func WithHistoryLimit(limit int) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.historyLimit = min(limit, history.DefaultLimit)
		}
	}
}

// WithLocation sets the zone used for remind_time values without an offset.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func WithCachePing(p Pinger) Option {
	return func(h *Handler) { h.cache = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a Handler instance.
func NewHandler(db *sql.DB, filter *whitelist.Filter, articles ArticleSource, opts ...Option) *Handler {
	h := &Handler{
		db:           db,
		filter:       filter,
		articles:     articles,
		logger:       zap.NewNop(),
		historyLimit: history.DefaultLimit,
		loc:          time.Local,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter builds a gin engine with recovery, request ids, access logging
// and every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog(h.logger))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.Use(DBScope(h.db, h.logger))
	api.POST("/chat_history", h.saveMessage)
	api.GET("/chat_history/:chat_id", h.getMessages)
	api.GET("/latest-article", h.latestArticle)
	api.POST("/reminders", h.saveReminder)
	api.GET("/reminders/check", h.checkReminders)
	api.POST("/reminders/complete", h.completeReminder)
	api.POST("/accounts", h.saveAccount)
	api.GET("/accounts/net-worth", h.netWorth)
	api.GET("/accounts/latest-balances", h.latestBalances)
}

func (h *Handler) fail(c *gin.Context, status int, err error) {
	h.logger.Error("request failed",
		zap.String("op", apperr.OpOf(err)),
		zap.String("kind", apperr.KindOf(err).String()),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err),
	)
	c.JSON(status, gin.H{"status": "error", "message": publicMessage(err)})
}

// publicMessage hides storage and transport details from clients. The full
// error is only logged.
func publicMessage(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return err.Error()
	case apperr.KindStorage:
		return "storage error"
	case apperr.KindFetch:
		var statusErr *article.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("upstream returned %d", statusErr.Code)
		}
		return "failed to fetch latest article"
	default:
		return "internal error"
	}
}

func invalidBody(c *gin.Context, status int) {
	c.JSON(status, gin.H{"status": "error", "message": "invalid request body"})
}

// Chat history

type saveMessageRequest struct {
	ChatID  *string `json:"chat_id"`
	Role    string  `json:"role"`
	Content string  `json:"content"`
}

type messageView struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func (h *Handler) saveMessage(c *gin.Context) {
	var req saveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, http.StatusBadRequest)
		return
	}
	if req.ChatID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "chat_id is required"})
		return
	}
	if !h.filter.IsAllowed(*req.ChatID) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "message": "Chat not in whitelist"})
		return
	}
	store := history.NewStore(querier(c, h.db), history.WithClock(h.now))
	if _, err := store.Save(c.Request.Context(), *req.ChatID, models.Role(req.Role), req.Content); err != nil {
		status := http.StatusInternalServerError
		if apperr.KindOf(err) == apperr.KindValidation {
			status = http.StatusBadRequest
		}
		h.fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) getMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	if !h.filter.IsAllowed(chatID) {
		c.JSON(http.StatusOK, []messageView{})
		return
	}
	store := history.NewStore(querier(c, h.db))
	messages, err := store.Recent(c.Request.Context(), chatID, h.historyLimit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{Role: m.Role, Content: m.Content})
	}
	c.JSON(http.StatusOK, views)
}

// Article

func (h *Handler) latestArticle(c *gin.Context) {
	latest, err := h.articles.Latest(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if apperr.KindOf(err) == apperr.KindNotFound {
			status = http.StatusNotFound
		}
		h.logger.Warn("latest article unavailable",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": publicMessage(err)})
		return
	}
	c.JSON(http.StatusOK, latest)
}

// Reminders

type saveReminderRequest struct {
	ChatID     string `json:"chat_id"`
	Content    string `json:"content"`
	RemindTime string `json:"remind_time"`
	UserName   string `json:"user_name"`
}

func (h *Handler) saveReminder(c *gin.Context) {
	var req saveReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, http.StatusInternalServerError)
		return
	}
	r := models.Reminder{ChatID: req.ChatID, Content: req.Content, UserName: req.UserName}
	// an empty remind_time is reported together with the other missing fields
	if strings.TrimSpace(req.RemindTime) != "" {
		at, err := reminder.ParseRemindTime(req.RemindTime, h.loc)
		if err != nil {
			h.fail(c, http.StatusInternalServerError, err)
			return
		}
		r.RemindTime = at
	}
	id, err := reminder.NewStore(querier(c, h.db)).Save(c.Request.Context(), r)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "id": id})
}

func (h *Handler) checkReminders(c *gin.Context) {
	due, err := reminder.NewStore(querier(c, h.db)).Due(c.Request.Context(), h.now())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	for i := range due {
		due[i].RemindTime = due[i].RemindTime.In(h.loc)
	}
	c.JSON(http.StatusOK, due)
}

type completeReminderRequest struct {
	ID *int64 `json:"id"`
}

func (h *Handler) completeReminder(c *gin.Context) {
	var req completeReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, http.StatusBadRequest)
		return
	}
	if req.ID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "id is required"})
		return
	}
	if err := reminder.NewStore(querier(c, h.db)).Complete(c.Request.Context(), *req.ID); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Accounts

type saveAccountRequest struct {
	ChatID      string   `json:"chat_id"`
	UserName    string   `json:"user_name"`
	AccountName string   `json:"account_name"`
	Balance     *float64 `json:"balance"`
}

func (h *Handler) saveAccount(c *gin.Context) {
	var req saveAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, http.StatusInternalServerError)
		return
	}
	if req.Balance == nil {
		h.fail(c, http.StatusInternalServerError, apperr.Validation("save account", "balance is required"))
		return
	}
	store := ledger.NewStore(querier(c, h.db), ledger.WithClock(h.now))
	_, err := store.Save(c.Request.Context(), models.AccountSnapshot{
		ChatID:      req.ChatID,
		UserName:    req.UserName,
		AccountName: req.AccountName,
		Balance:     *req.Balance,
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) netWorth(c *gin.Context) {
	store := ledger.NewStore(querier(c, h.db))
	chatID, userName := c.Query("chat_id"), c.Query("user_name")

	var (
		total float64
		err   error
	)
	if c.Query("mode") == "latest" {
		total, err = store.LatestNetWorth(c.Request.Context(), chatID, userName)
	} else {
		total, err = store.NetWorth(c.Request.Context(), chatID, userName)
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"net_worth": total})
}

func (h *Handler) latestBalances(c *gin.Context) {
	store := ledger.NewStore(querier(c, h.db))
	balances, err := store.LatestBalances(c.Request.Context(), c.Query("chat_id"), c.Query("user_name"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// Health

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database: " + err.Error()})
		return
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "cache: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
