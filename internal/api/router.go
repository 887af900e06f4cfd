package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medimeet/telehealth-booking/internal/booking"
	"github.com/medimeet/telehealth-booking/internal/metrics"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	// Health and observability
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Doctor discovery and availability
	r.Get("/doctors", listDoctorsHandler(cfg.Service))
	r.Put("/doctors/{id}/availability", setAvailabilityHandler(cfg.Service))
	r.Get("/doctors/{id}/slots", projectSlotsHandler(cfg.Service, cfg.Metrics))

	// Appointments
	r.Post("/appointments", bookAppointmentHandler(cfg.Service, cfg.Metrics))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/notes", addNotesHandler(cfg.Service))
	r.Post("/appointments/{id}/video-token", videoTokenHandler(cfg.Service))

	return r
}
