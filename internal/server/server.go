// Package server exposes the portal flows over HTTP, both under the query string
// interface older clients use ("/?noten") and under /api/v1.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/scrapers/lsf"
	"htwg-backend/internal/service"

	"github.com/gin-gonic/gin"
)

// API is everything the server needs from the service layer.
type API interface {
	PrinterBalance(ctx context.Context, creds portal.Credentials) service.Result
	Grades(ctx context.Context, creds portal.Credentials) service.Result
	Timetable(ctx context.Context, creds portal.Credentials, req lsf.TimetableRequest) service.Result
	Certificate(ctx context.Context, creds portal.Credentials) service.Result
	CanteenMenu(ctx context.Context) service.Result
	ExamDates(ctx context.Context) service.Result
	CafeInfo(ctx context.Context, kind string) service.Result
}

type RateLimitConfig struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

type Config struct {
	// Mode is the gin mode, "release" unless set.
	Mode      string          `json:"mode"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	// RequestTimeoutSeconds bounds a whole flow, 60 when zero.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

var errorMessages = map[int]string{
	http.StatusBadRequest:          "Ungültige Anfrage.",
	http.StatusForbidden:           "Anmeldung fehlgeschlagen.",
	http.StatusNotFound:            "Not found.",
	http.StatusTooManyRequests:     "Zu viele Anfragen.",
	http.StatusInternalServerError: "Die Daten konnten nicht ausgelesen werden.",
	http.StatusBadGateway:          "Das Portal ist nicht erreichbar.",
}

// ErrorMessage is the text shown to users for a failed request.
func ErrorMessage(status int) string {
	msg, ok := errorMessages[status]
	if !ok {
		return http.StatusText(status)
	}
	return msg
}

type handlers struct {
	api     API
	tel     telemetry.API
	timeout time.Duration
	started time.Time
}

// NewRouter builds the gin engine. The rate limiter stops evicting idle clients
// once ctx is done.
func NewRouter(ctx context.Context, api API, cfg Config, tel telemetry.API) *gin.Engine {
	assert.NotNil(api)
	assert.NotNil(tel)

	mode := cfg.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	h := handlers{
		api:     api,
		tel:     telemetry.NewScopedAPI("server", tel),
		timeout: timeout,
		started: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog(h.tel))
	r.Use(CORS())
	if cfg.RateLimit.Enabled {
		r.Use(RateLimit(ctx, cfg.RateLimit, h.tel))
	}

	r.GET("/", h.legacy)
	r.POST("/", h.legacy)

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.health)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		v1.Handle(method, "/printer", h.printer)
		v1.Handle(method, "/grades", h.grades)
		v1.Handle(method, "/timetable", h.timetable)
		v1.Handle(method, "/certificate", h.certificate)
	}
	v1.GET("/canteen", h.canteen)
	v1.GET("/exam-dates", h.examDates)
	v1.GET("/cafe/:kind", h.cafe)

	r.NoRoute(func(c *gin.Context) {
		writeResult(c, service.Result{StatusCode: http.StatusNotFound})
	})
	return r
}

func (h handlers) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// credentials reads HTTP basic auth, falling back to username/password form or
// query values.
func credentials(c *gin.Context) portal.Credentials {
	if username, password, ok := c.Request.BasicAuth(); ok {
		return portal.Credentials{Username: username, Password: password}
	}
	value := func(key string) string {
		if v, ok := c.GetPostForm(key); ok {
			return v
		}
		return c.Query(key)
	}
	return portal.Credentials{Username: value("username"), Password: value("password")}
}

func timetableRequest(c *gin.Context) lsf.TimetableRequest {
	return lsf.TimetableRequest{
		Week: c.Query("week"),
		Year: c.Query("year"),
		Type: c.Query("type"),
	}
}

// writeResult writes the payload of a successful result or the message for a failed one.
func writeResult(c *gin.Context, res service.Result) {
	if !res.OK() {
		c.Data(res.StatusCode, service.ContentText, []byte(ErrorMessage(res.StatusCode)))
		return
	}
	if res.Filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	}
	c.Data(res.StatusCode, res.ContentType, res.Payload)
}

func (h handlers) printer(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.PrinterBalance(ctx, credentials(c)))
}

func (h handlers) grades(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.Grades(ctx, credentials(c)))
}

func (h handlers) timetable(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.Timetable(ctx, credentials(c), timetableRequest(c)))
}

func (h handlers) certificate(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.Certificate(ctx, credentials(c)))
}

func (h handlers) canteen(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.CanteenMenu(ctx))
}

func (h handlers) examDates(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.ExamDates(ctx))
}

func (h handlers) cafe(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()
	writeResult(c, h.api.CafeInfo(ctx, c.Param("kind")))
}

func (h handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// legacy dispatches on the first known query key, the way the original single
// endpoint did.
func (h handlers) legacy(c *gin.Context) {
	has := func(key string) bool {
		_, ok := c.GetQuery(key)
		return ok
	}

	switch {
	case has("drucker"):
		h.printer(c)
	case has("noten"):
		h.grades(c)
	case has("stundenplan"):
		h.timetable(c)
	case has("immatrikulationsbescheinigung"):
		h.certificate(c)
	case has("mensa"), has("speiseplan"):
		h.canteen(c)
	case has("termine"):
		h.examDates(c)
	case has("endlicht"):
		ctx, cancel := h.context(c)
		defer cancel()
		writeResult(c, h.api.CafeInfo(ctx, c.Query("endlicht")))
	default:
		writeResult(c, service.Result{StatusCode: http.StatusNotFound})
	}
}
