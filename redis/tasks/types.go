package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypeRouteWarm   = "route:warm"
	TypeHealthCheck = "health:check"
)

// RouteWarmPayload asks a worker to compute, and so cache, the route of a
// registered order.
type RouteWarmPayload struct {
	OrderID     string    `json:"order_id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewRouteWarmTask builds the task for p. The order id doubles as the task
// id, so an order already waiting in the queue is not enqueued twice.
func NewRouteWarmTask(p RouteWarmPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route warm payload: %w", err)
	}

	opts = append([]asynq.Option{asynq.TaskID(RouteWarmTaskID(p.OrderID))}, opts...)

	return asynq.NewTask(TypeRouteWarm, data, opts...), nil
}

// RouteWarmTaskID is the queue id of the warm-up task of an order.
func RouteWarmTaskID(orderID string) string {
	return TypeRouteWarm + ":" + orderID
}

func parseRouteWarmPayload(data []byte) (RouteWarmPayload, error) {
	var p RouteWarmPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal route warm payload: %w", err)
	}

	if p.Origin == "" || p.Destination == "" {
		return p, fmt.Errorf("route warm payload for order %q lacks an endpoint", p.OrderID)
	}

	return p, nil
}
