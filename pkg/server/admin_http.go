package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/rbac"
)

const operatorKey = "operator"

// AdminHTTP is the admin REST API. It serves /api/* behind bearer token
// auth, plus /metrics and /healthz.
type AdminHTTP struct {
	admin *Admin
	ops   []model.Operator
	echo  *echo.Echo

	mu    sync.Mutex
	cache map[string]model.Operator

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewAdminHTTP builds the API. When ops is empty a one-off admin token is
// generated and logged. Request metrics are registered on reg, which is also
// what /metrics exposes.
func NewAdminHTTP(admin *Admin, ops []model.Operator, reg *prometheus.Registry) (*AdminHTTP, error) {
	ops, err := ensureAdminToken(ops)
	if err != nil {
		return nil, err
	}

	h := &AdminHTTP{
		admin: admin,
		ops:   ops,
		cache: make(map[string]model.Operator),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gorelay",
			Name:      "admin_http_requests_total",
			Help:      "Admin API requests by method, route and status code.",
		}, []string{"method", "path", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gorelay",
			Name:      "admin_http_request_duration_seconds",
			Help:      "Admin API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if err := reg.Register(h.requests); err != nil {
		return nil, fmt.Errorf("server: admin metrics: %w", err)
	}
	if err := reg.Register(h.latency); err != nil {
		return nil, fmt.Errorf("server: admin metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.Use(middleware.Recover())
	e.Use(h.instrument)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok\n")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := e.Group("/api", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator:  h.validateKey,
	}))
	api.GET("/sessions", h.listSessions, requirePerm(model.PermViewState))
	api.GET("/channels", h.listChannels, requirePerm(model.PermViewState))
	api.GET("/bans", h.listBans, requirePerm(model.PermViewState))
	api.POST("/kick", h.kick, requirePerm(model.PermKick))
	api.POST("/ban", h.ban, requirePerm(model.PermBan))
	api.DELETE("/bans/:address", h.unban, requirePerm(model.PermBan))
	api.POST("/nickbans", h.banNick, requirePerm(model.PermBan))
	api.DELETE("/nickbans/:nick", h.unbanNick, requirePerm(model.PermBan))
	api.POST("/channels", h.addChannel, requirePerm(model.PermManageChannels))
	api.DELETE("/channels/:name", h.removeChannel, requirePerm(model.PermManageChannels))
	api.POST("/message", h.message, requirePerm(model.PermMessage))
	api.POST("/broadcast", h.broadcast, requirePerm(model.PermMessage))
	api.POST("/shutdown", h.shutdown, requirePerm(model.PermShutdown))

	h.echo = e
	return h, nil
}

func (h *AdminHTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.echo.ServeHTTP(w, r)
}

// ensureAdminToken returns ops unchanged unless it is empty, in which case
// it generates a random admin token, logs it once and returns an operator
// for it.
func ensureAdminToken(ops []model.Operator) ([]model.Operator, error) {
	if len(ops) > 0 {
		return ops, nil
	}
	raw, err := crypto.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("server: generate admin token: %w", err)
	}
	hash, err := crypto.HashSecret(raw)
	if err != nil {
		return nil, fmt.Errorf("server: hash admin token: %w", err)
	}

	slog.Info("========================================")
	slog.Info("ADMIN TOKEN (save this!):", "token", raw)
	slog.Info("========================================")
	return []model.Operator{{Name: "admin", SecretHash: hash, Role: model.RoleAdmin}}, nil
}

// validateKey checks a bearer token against the configured operators.
// Successful matches are cached so bcrypt runs once per token.
func (h *AdminHTTP) validateKey(key string, c echo.Context) (bool, error) {
	fp := crypto.Fingerprint(key)
	h.mu.Lock()
	op, ok := h.cache[fp]
	h.mu.Unlock()
	if !ok {
		for _, candidate := range h.ops {
			if crypto.CheckSecret(candidate.SecretHash, key) == nil {
				op, ok = candidate, true
				break
			}
		}
		if !ok {
			return false, nil
		}
		h.mu.Lock()
		h.cache[fp] = op
		h.mu.Unlock()
	}
	c.Set(operatorKey, op)
	return true, nil
}

func operatorOf(c echo.Context) model.Operator {
	op, _ := c.Get(operatorKey).(model.Operator)
	return op
}

func requirePerm(perm model.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if msg := rbac.RequirePermission(operatorOf(c).Role, perm); msg != "" {
				return echo.NewHTTPError(http.StatusForbidden, msg)
			}
			return next(c)
		}
	}
}

func (h *AdminHTTP) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request().Method
		h.latency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		h.requests.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
		return nil
	}
}

// requestValidator adapts go-playground/validator to echo, reporting field
// names as they appear in JSON.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}

// httpError maps admin errors onto status codes.
func httpError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTargetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrChannelNotEmpty), errors.Is(err, ErrChannelExists):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidChannel),
		errors.Is(err, model.ErrNickEmpty),
		errors.Is(err, model.ErrNickTooLong),
		errors.Is(err, model.ErrNickInvalidChars):
		status = http.StatusBadRequest
	}
	return echo.NewHTTPError(status, err.Error())
}

type targetRequest struct {
	Target string `json:"target" validate:"required"`
	Reason string `json:"reason"`
}

type nickBanRequest struct {
	Nick   string `json:"nick" validate:"required"`
	Reason string `json:"reason"`
}

type channelRequest struct {
	Name  string `json:"name" validate:"required"`
	Topic string `json:"topic"`
}

type messageRequest struct {
	Target string `json:"target" validate:"required"`
	Text   string `json:"text" validate:"required"`
}

type broadcastRequest struct {
	Text string `json:"text" validate:"required"`
}

func (h *AdminHTTP) listSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.admin.Sessions())
}

func (h *AdminHTTP) listChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, h.admin.Channels())
}

func (h *AdminHTTP) listBans(c echo.Context) error {
	return c.JSON(http.StatusOK, h.admin.Bans())
}

func (h *AdminHTTP) kick(c echo.Context) error {
	var req targetRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	n, err := h.admin.Kick(operatorOf(c).Name, req.Target, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"kicked": n})
}

func (h *AdminHTTP) ban(c echo.Context) error {
	var req targetRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	b, err := h.admin.Ban(operatorOf(c).Name, req.Target, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *AdminHTTP) unban(c echo.Context) error {
	if err := h.admin.Unban(operatorOf(c).Name, c.Param("address")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) banNick(c echo.Context) error {
	var req nickBanRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	b, err := h.admin.BanNick(operatorOf(c).Name, req.Nick, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *AdminHTTP) unbanNick(c echo.Context) error {
	if err := h.admin.UnbanNick(operatorOf(c).Name, c.Param("nick")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) addChannel(c echo.Context) error {
	var req channelRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	info, err := h.admin.AddChannel(operatorOf(c).Name, req.Name, req.Topic)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, info)
}

// removeChannel takes the name without its leading '#', which would
// otherwise start the URL fragment.
func (h *AdminHTTP) removeChannel(c echo.Context) error {
	if err := h.admin.RemoveChannel(operatorOf(c).Name, c.Param("name")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) message(c echo.Context) error {
	var req messageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if err := h.admin.Message(operatorOf(c).Name, req.Target, req.Text); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) broadcast(c echo.Context) error {
	var req broadcastRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	n := h.admin.Broadcast(operatorOf(c).Name, req.Text)
	return c.JSON(http.StatusOK, map[string]int{"delivered": n})
}

func (h *AdminHTTP) shutdown(c echo.Context) error {
	h.admin.Shutdown(operatorOf(c).Name)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "shutting down"})
}
