// Package route computes the shortest driving route between two location
// references. The computation is an explicit state machine over the
// provider tiers: routing, matrix, a re-expansion retry and a geocoding
// retry, each of which runs at most once per retry marker.
package route

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gosom/courier-routes/cache"
	"github.com/gosom/courier-routes/location"
	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

// DefaultCallBudget bounds the external calls of one route computation,
// including the resolution of both endpoints.
const DefaultCallBudget = 20

// Provider is the subset of the mapping provider used by the calculator.
type Provider interface {
	Directions(ctx context.Context, origin, destination string) ([]models.RouteCandidate, error)
	DistanceMatrix(ctx context.Context, origin, destination string) (models.MatrixElement, error)
}

// Resolver turns raw references into routable values.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (models.Resolved, error)
	Reexpand(ctx context.Context, raw string) (models.Resolved, bool, error)
	GeocodeFallback(ctx context.Context, raw string) (models.Resolved, bool, error)
}

type Option func(*Calculator)

func WithCache(c cache.Cache[models.RouteResult]) Option {
	return func(calc *Calculator) {
		if c != nil {
			calc.cache = c
		}
	}
}

func WithCallBudget(n int) Option {
	return func(calc *Calculator) {
		if n > 0 {
			calc.callBudget = n
		}
	}
}

type Calculator struct {
	provider   Provider
	resolver   Resolver
	cache      cache.Cache[models.RouteResult]
	flight     cache.Flight[models.RouteResult]
	callBudget int
	logger     *zap.Logger
}

func New(p Provider, r Resolver, logger *zap.Logger, opts ...Option) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Calculator{
		provider:   p,
		resolver:   r,
		cache:      cache.Noop[models.RouteResult]{},
		callBudget: DefaultCallBudget,
		logger:     logger.Named("route"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type endpoint struct {
	raw      string
	resolved models.Resolved
}

// attempt is the mutable state of one computation.
type attempt struct {
	origin        endpoint
	destination   endpoint
	markers       Markers
	matrixOutcome Outcome
	err           error
	result        models.RouteResult
}

// Compute returns the shortest driving route between origin and destination.
// Successful results are cached by the normalized pair; failures never are.
// Errors are always *models.Failure.
func (c *Calculator) Compute(ctx context.Context, origin, destination string) (models.RouteResult, error) {
	key := cache.Key("route", location.Normalize(origin), location.Normalize(destination))

	if v, ok := c.cache.Get(ctx, key); ok {
		return v, nil
	}

	res, err := c.flight.Do(ctx, key, func() (models.RouteResult, error) {
		res, err := c.compute(ctx, origin, destination)
		if err != nil {
			return models.RouteResult{}, err
		}

		if ctx.Err() == nil {
			c.cache.Put(ctx, key, res)
		}

		return res, nil
	})
	if err != nil {
		var f *models.Failure
		if !errors.As(err, &f) {
			return models.RouteResult{}, models.NewFailure(models.CodeNoConnectivity, "request cancelled", err)
		}

		return models.RouteResult{}, err
	}

	return res, nil
}

func (c *Calculator) compute(ctx context.Context, origin, destination string) (models.RouteResult, error) {
	ctx, budget := provider.WithBudget(ctx, c.callBudget)

	o, err := c.resolver.Resolve(ctx, origin)
	if err != nil {
		return models.RouteResult{}, endpointFailure("origin", err)
	}

	d, err := c.resolver.Resolve(ctx, destination)
	if err != nil {
		return models.RouteResult{}, endpointFailure("destination", err)
	}

	a := &attempt{
		origin:      endpoint{raw: origin, resolved: o},
		destination: endpoint{raw: destination, resolved: d},
	}

	state := StateStart

	for range maxTransitions {
		var out Outcome

		switch state {
		case StateStart:
			out = OutcomeSkipped
		case StateTryRouting:
			out = c.tryRouting(ctx, a)
		case StateTryMatrix:
			out = c.tryMatrix(ctx, a)
			a.matrixOutcome = out
		case StateRetryReexpand:
			out = c.retryReexpand(ctx, a)
			a.markers.Reexpanded = true
		case StateRetryGeocode:
			out = c.retryGeocode(ctx, a)
			a.markers.Geocoded = true
		}

		next := Next(state, out, a.markers)

		c.logger.Debug("route transition",
			zap.Stringer("from", state),
			zap.Stringer("outcome", out),
			zap.Stringer("to", next),
		)

		switch next {
		case StateSuccess:
			c.logger.Debug("route computed",
				zap.String("origin", a.origin.resolved.Value()),
				zap.String("destination", a.destination.resolved.Value()),
				zap.String("source", string(a.result.Source)),
				zap.Int("calls", budget.Used()),
			)

			return a.result, nil
		case StateFailed:
			f := c.failure(ctx, state, out, a)

			c.logger.Warn("route failed",
				zap.String("origin", origin),
				zap.String("destination", destination),
				zap.String("code", string(f.Code)),
				zap.Int("calls", budget.Used()),
				zap.Error(a.err),
			)

			return models.RouteResult{}, f
		}

		state = next
	}

	return models.RouteResult{}, models.NewFailure(models.CodeUpstreamInconsistent, "route computation did not settle", nil)
}

func (c *Calculator) tryRouting(ctx context.Context, a *attempt) Outcome {
	if a.origin.resolved.IsPoint() && a.destination.resolved.IsPoint() {
		return OutcomeSkipped
	}

	routes, err := c.provider.Directions(ctx, a.origin.resolved.Value(), a.destination.resolved.Value())
	if err != nil {
		return a.classify(ctx, err)
	}

	best, ok := shortest(routes)
	if !ok {
		return OutcomeNoPath
	}

	a.result = models.RouteResult{
		DistanceMeters:     best.DistanceMeters,
		DistanceText:       best.DistanceText,
		DurationSeconds:    best.DurationSeconds,
		DurationText:       best.DurationText,
		Source:             models.SourceRouting,
		OriginAddress:      best.StartAddress,
		DestinationAddress: best.EndAddress,
	}

	return OutcomeSuccess
}

func (c *Calculator) tryMatrix(ctx context.Context, a *attempt) Outcome {
	el, err := c.provider.DistanceMatrix(ctx, a.origin.resolved.Value(), a.destination.resolved.Value())
	if err != nil {
		return a.classify(ctx, err)
	}

	switch el.Status {
	case provider.StatusOK:
		if !el.HasDistance {
			return OutcomeInconsistent
		}
	case provider.StatusZeroResults, provider.StatusMaxRouteLengthExceeded:
		return OutcomeNoPath
	case provider.StatusNotFound:
		return OutcomeNotFound
	default:
		return OutcomeInconsistent
	}

	a.result = models.RouteResult{
		DistanceMeters:     el.DistanceMeters,
		DistanceText:       el.DistanceText,
		DurationSeconds:    el.DurationSeconds,
		DurationText:       el.DurationText,
		Source:             models.SourceMatrix,
		OriginAddress:      el.OriginAddress,
		DestinationAddress: el.DestinationAddress,
	}

	return OutcomeSuccess
}

// retryReexpand expands short link endpoints again, skipping the cache.
func (c *Calculator) retryReexpand(ctx context.Context, a *attempt) Outcome {
	changed := false

	for _, ep := range []*endpoint{&a.origin, &a.destination} {
		res, ok, err := c.resolver.Reexpand(ctx, ep.raw)
		if err != nil {
			if unavailable(ctx, err) {
				a.err = err
				return OutcomeUnavailable
			}

			continue
		}

		if !ok || res.IsZero() || res.Value() == ep.resolved.Value() {
			continue
		}

		ep.resolved = res
		changed = true
	}

	if !changed {
		return OutcomeSkipped
	}

	return OutcomeSuccess
}

// retryGeocode replaces every endpoint that is not a point by its geocoded
// location. It succeeds only if both endpoints end up as points and at least
// one of them changed.
func (c *Calculator) retryGeocode(ctx context.Context, a *attempt) Outcome {
	changed := false

	for _, ep := range []*endpoint{&a.origin, &a.destination} {
		if ep.resolved.IsPoint() {
			continue
		}

		res, ok, err := c.resolver.GeocodeFallback(ctx, ep.raw)
		if err != nil {
			if unavailable(ctx, err) {
				a.err = err
				return OutcomeUnavailable
			}

			return OutcomeNotFound
		}

		if !ok || !res.IsPoint() {
			return OutcomeNotFound
		}

		ep.resolved = res
		changed = true
	}

	if !changed {
		return OutcomeNotFound
	}

	return OutcomeSuccess
}

func (a *attempt) classify(ctx context.Context, err error) Outcome {
	a.err = err

	switch {
	case unavailable(ctx, err):
		return OutcomeUnavailable
	case errors.Is(err, models.ErrNoRouteFound):
		return OutcomeNoPath
	case errors.Is(err, models.ErrEndpointNotFound):
		return OutcomeNotFound
	default:
		return OutcomeInconsistent
	}
}

func unavailable(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, models.ErrNoConnectivity) ||
		errors.Is(err, provider.ErrBudgetExhausted)
}

// failure builds the error for a transition into Failed. Leaving a retry
// tier reports what the matrix said, not what the retry found.
func (c *Calculator) failure(ctx context.Context, from State, out Outcome, a *attempt) *models.Failure {
	decisive := out
	if out != OutcomeUnavailable && (from == StateRetryReexpand || from == StateRetryGeocode) {
		decisive = a.matrixOutcome
	}

	code := failureCode(decisive)

	switch {
	case ctx.Err() != nil:
		return models.NewFailure(models.CodeNoConnectivity, "request cancelled", ctx.Err())
	case decisive == OutcomeUnavailable && errors.Is(a.err, provider.ErrBudgetExhausted):
		return models.NewFailure(models.CodeUpstreamInconsistent, "external call budget exhausted", a.err)
	}

	return models.NewFailure(code, failureMessage(code), a.err)
}

func failureMessage(code models.Code) string {
	switch code {
	case models.CodeNoRouteFound:
		return "no driving route exists between origin and destination"
	case models.CodeEndpointNotFound:
		return "origin or destination could not be matched to a place"
	case models.CodeNoConnectivity:
		return "mapping provider unreachable"
	default:
		return "mapping provider returned inconsistent results"
	}
}

func endpointFailure(which string, err error) error {
	code := models.CodeOf(err)

	return models.NewFailure(code, fmt.Sprintf("%s: %s", which, models.MessageOf(err)), err)
}

// shortest returns the candidate with the smallest distance. Ties keep the
// first one seen.
func shortest(routes []models.RouteCandidate) (models.RouteCandidate, bool) {
	if len(routes) == 0 {
		return models.RouteCandidate{}, false
	}

	best := routes[0]
	for _, r := range routes[1:] {
		if r.DistanceMeters < best.DistanceMeters {
			best = r
		}
	}

	return best, true
}
