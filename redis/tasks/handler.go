// Package tasks defines the background tasks of the route service and the
// worker side handler that processes them.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
)

// RouteComputer is the calculator as seen by the worker.
type RouteComputer interface {
	Compute(ctx context.Context, origin, destination string) (models.RouteResult, error)
}

// TaskHandler handles processing of queued tasks
type TaskHandler interface {
	ProcessTask(ctx context.Context, task *asynq.Task) error
}

type Handler struct {
	routes      RouteComputer
	taskTimeout time.Duration
	logger      *zap.Logger
}

type HandlerOption func(*Handler)

// WithTaskTimeout bounds the processing of a single task.
func WithTaskTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		if timeout > 0 {
			h.taskTimeout = timeout
		}
	}
}

func NewHandler(routes RouteComputer, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		routes:      routes,
		taskTimeout: 30 * time.Second,
		logger:      logger.Named("tasks"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register binds every task type this handler knows to mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeRouteWarm, h)
	mux.Handle(TypeHealthCheck, h)
}

// ProcessTask processes a task based on its type
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()

	switch task.Type() {
	case TypeRouteWarm:
		return h.processRouteWarm(ctx, task)
	case TypeHealthCheck:
		return nil
	default:
		return fmt.Errorf("unknown task type: %s: %w", task.Type(), asynq.SkipRetry)
	}
}

// processRouteWarm computes the route so the shared cache holds it. Only
// lost connectivity is worth a retry; every other failure is final.
func (h *Handler) processRouteWarm(ctx context.Context, task *asynq.Task) error {
	p, err := parseRouteWarmPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	start := time.Now()

	res, err := h.routes.Compute(ctx, p.Origin, p.Destination)
	if err != nil {
		code := models.CodeOf(err)

		h.logger.Warn("route warm-up failed",
			zap.String("order_id", p.OrderID),
			zap.String("code", string(code)),
			zap.Error(err),
		)

		if errors.Is(err, models.ErrNoConnectivity) {
			return err
		}

		return fmt.Errorf("order %s: %w: %w", p.OrderID, err, asynq.SkipRetry)
	}

	h.logger.Info("route warmed",
		zap.String("order_id", p.OrderID),
		zap.Int("distance_meters", res.DistanceMeters),
		zap.String("source", string(res.Source)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}
