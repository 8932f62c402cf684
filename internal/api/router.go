package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
)

type AppointmentService interface {
	Book(ctx context.Context, in appointment.BookInput) (*appointment.Appointment, error)
	ListByInsured(ctx context.Context, insuredID string) ([]appointment.Appointment, error)
	Get(ctx context.Context, id string) (*appointment.Appointment, error)
}

type RouterConfig struct {
	Service AppointmentService
	Checks  []Check
	Metrics http.Handler
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Post("/appointments", createAppointmentHandler(cfg.Service, log))
	r.Get("/appointments/{insuredId}", listAppointmentsHandler(cfg.Service, log))
	r.Get("/appointments/id/{appointmentId}", getAppointmentHandler(cfg.Service, log))

	return r
}

// NewOpsRouter serves only health and metrics, for the worker binaries.
func NewOpsRouter(checks []Check, metrics http.Handler, env, version string) http.Handler {
	r := chi.NewRouter()
	health := NewHealthHandler(checks, env, version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
