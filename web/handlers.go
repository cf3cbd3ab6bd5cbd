package web

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/gosom/courier-routes/location"
	"github.com/gosom/courier-routes/models"
)

// statusFor maps the failure taxonomy to HTTP status codes.
func statusFor(code models.Code) int {
	switch code {
	case models.CodeOK:
		return http.StatusOK
	case models.CodeUnresolvableReference, models.CodeNoRouteFound:
		return http.StatusUnprocessableEntity
	case models.CodeEndpointNotFound:
		return http.StatusNotFound
	case models.CodeNoConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) validateReference(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateReferenceRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp := models.ValidateReferenceResponse{
		Kind: location.Classify(req.Reference).Kind.String(),
	}

	res, err := s.resolver.Resolve(r.Context(), req.Reference)
	if err != nil {
		resp.Reason = models.MessageOf(err)

		status := http.StatusOK
		if models.CodeOf(err) == models.CodeNoConnectivity {
			status = http.StatusServiceUnavailable
		}

		renderJSON(w, status, resp)

		return
	}

	resp.Valid = true
	resp.ResolvedVia = res.Via.String()

	if res.IsPoint() {
		resp.Coordinates = res.Point.String()
	}

	renderJSON(w, http.StatusOK, resp)
}

func (s *Server) computeRoute(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.routes.Compute(r.Context(), req.Origin, req.Destination)
	if err != nil {
		renderJSON(w, statusFor(models.CodeOf(err)), models.NewRouteFailure(err))
		return
	}

	renderJSON(w, http.StatusOK, models.NewRouteResponse(res))
}

func (s *Server) warmRoute(w http.ResponseWriter, r *http.Request) {
	if s.warmer == nil {
		renderJSON(w, http.StatusServiceUnavailable, models.APIError{
			Code:    http.StatusServiceUnavailable,
			Message: "route warm-up is not configured",
		})

		return
	}

	var req models.WarmRouteRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.warmer.EnqueueRouteWarm(r.Context(), req)
	if err != nil {
		s.logger.Error("enqueue route warm-up",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)

		renderJSON(w, http.StatusServiceUnavailable, models.APIError{
			Code:    http.StatusServiceUnavailable,
			Message: "failed to schedule route warm-up",
		})

		return
	}

	renderJSON(w, http.StatusAccepted, models.WarmRouteResponse{TaskID: id})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Status: "ok"}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}

	for name, c := range s.checks {
		if c.IsHealthy(r.Context()) {
			resp.Checks[name] = "ok"
			continue
		}

		resp.Checks[name] = "unavailable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	renderJSON(w, status, resp)
}
