package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
)

type fakeResolver map[string]models.Resolved

func (f fakeResolver) Resolve(_ context.Context, raw string) (models.Resolved, error) {
	if v, ok := f[raw]; ok {
		return v, nil
	}

	if raw == "offline" {
		return models.Resolved{}, models.NewFailure(models.CodeNoConnectivity, "mapping provider unreachable", nil)
	}

	return models.Resolved{}, models.NewFailure(models.CodeUnresolvableReference, "not a coordinate pair, map link or address", nil)
}

type fakeRoutes struct {
	result models.RouteResult
	err    error
	calls  int
}

func (f *fakeRoutes) Compute(context.Context, string, string) (models.RouteResult, error) {
	f.calls++

	return f.result, f.err
}

type fakeWarmer struct {
	got []models.WarmRouteRequest
	err error
}

func (f *fakeWarmer) EnqueueRouteWarm(_ context.Context, req models.WarmRouteRequest) (string, error) {
	f.got = append(f.got, req)

	return "task-1", f.err
}

type fakeCheck bool

func (f fakeCheck) IsHealthy(context.Context) bool { return bool(f) }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func newTestServer(routes RouteComputer, opts ...Option) *Server {
	resolver := fakeResolver{
		"-17.393,-66.157": models.NewPoint(models.Coordinates{Lat: -17.393, Lng: -66.157}, 0, models.ViaDirectExtraction),
		"Plaza Colon":     models.NewRoutable("Plaza Colon", models.ViaOriginalLinkPassthrough),
	}

	return New(Config{}, resolver, routes, zap.NewNop(), opts...)
}

func TestValidateReference(t *testing.T) {
	h := newTestServer(&fakeRoutes{}).Handler()

	t.Run("point", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/references/validate", `{"reference":"-17.393,-66.157"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[models.ValidateReferenceResponse](t, rec)
		assert.True(t, resp.Valid)
		assert.Equal(t, "-17.393,-66.157", resp.Coordinates)
		assert.Equal(t, "coordinates", resp.Kind)
		assert.Equal(t, models.ViaDirectExtraction.String(), resp.ResolvedVia)
	})

	t.Run("routable string", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/references/validate", `{"reference":"Plaza Colon"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[models.ValidateReferenceResponse](t, rec)
		assert.True(t, resp.Valid)
		assert.Empty(t, resp.Coordinates)
	})

	t.Run("unresolvable", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/references/validate", `{"reference":"???"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[models.ValidateReferenceResponse](t, rec)
		assert.False(t, resp.Valid)
		assert.NotEmpty(t, resp.Reason)
	})

	t.Run("no connectivity", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/references/validate", `{"reference":"offline"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.False(t, decodeBody[models.ValidateReferenceResponse](t, rec).Valid)
	})

	t.Run("missing reference", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/references/validate", `{}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "reference is required", decodeBody[models.APIError](t, rec).Message)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/references/validate", `{"reference":`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/references/validate", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestComputeRoute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		routes := &fakeRoutes{result: models.RouteResult{
			DistanceMeters:  9240,
			DistanceText:    "9.2 km",
			DurationSeconds: 1260,
			DurationText:    "21 mins",
			Source:          models.SourceRouting,
			OriginAddress:   "Plaza 14 de Septiembre",
		}}

		rec := do(t, newTestServer(routes).Handler(), http.MethodPost, "/api/v1/routes", `{"origin":"a","destination":"b"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[models.RouteResponse](t, rec)
		assert.Equal(t, models.CodeOK, resp.Status)
		require.NotNil(t, resp.Distance)
		assert.Equal(t, 9240, resp.Distance.ValueMeters)
		assert.InDelta(t, 9.24, resp.Distance.Km, 1e-9)
		assert.Equal(t, 1260, resp.Duration.ValueSeconds)
		assert.Equal(t, models.SourceRouting, resp.Source)
	})

	failures := []struct {
		code   models.Code
		status int
	}{
		{models.CodeNoRouteFound, http.StatusUnprocessableEntity},
		{models.CodeEndpointNotFound, http.StatusNotFound},
		{models.CodeUnresolvableReference, http.StatusUnprocessableEntity},
		{models.CodeNoConnectivity, http.StatusServiceUnavailable},
		{models.CodeUpstreamInconsistent, http.StatusBadGateway},
	}

	for _, tt := range failures {
		t.Run(string(tt.code), func(t *testing.T) {
			routes := &fakeRoutes{err: models.NewFailure(tt.code, "route failed", errors.New("raw provider detail"))}

			rec := do(t, newTestServer(routes).Handler(), http.MethodPost, "/api/v1/routes", `{"origin":"a","destination":"b"}`)
			require.Equal(t, tt.status, rec.Code)

			resp := decodeBody[models.RouteResponse](t, rec)
			assert.Equal(t, tt.code, resp.Status)
			assert.Equal(t, "route failed", resp.Message)
			assert.Nil(t, resp.Distance)
			assert.NotContains(t, rec.Body.String(), "raw provider detail")
		})
	}

	t.Run("missing destination", func(t *testing.T) {
		routes := &fakeRoutes{}

		rec := do(t, newTestServer(routes).Handler(), http.MethodPost, "/api/v1/routes", `{"origin":"a"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "destination is required", decodeBody[models.APIError](t, rec).Message)
		assert.Zero(t, routes.calls)
	})

	t.Run("oversized reference", func(t *testing.T) {
		routes := &fakeRoutes{}
		body := `{"origin":"` + strings.Repeat("a", 5000) + `","destination":"b"}`

		rec := do(t, newTestServer(routes).Handler(), http.MethodPost, "/api/v1/routes", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody[models.APIError](t, rec).Message, "origin must be at most 4096")
	})
}

func TestWarmRoute(t *testing.T) {
	body := `{"order_id":"ord-1","origin":"a","destination":"b"}`

	t.Run("not configured", func(t *testing.T) {
		rec := do(t, newTestServer(&fakeRoutes{}).Handler(), http.MethodPost, "/api/v1/routes/warm", body)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("enqueued", func(t *testing.T) {
		warmer := &fakeWarmer{}

		rec := do(t, newTestServer(&fakeRoutes{}, WithRouteWarmer(warmer)).Handler(), http.MethodPost, "/api/v1/routes/warm", body)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "task-1", decodeBody[models.WarmRouteResponse](t, rec).TaskID)
		require.Len(t, warmer.got, 1)
		assert.Equal(t, "ord-1", warmer.got[0].OrderID)
	})

	t.Run("queue failure", func(t *testing.T) {
		warmer := &fakeWarmer{err: errors.New("redis down")}

		rec := do(t, newTestServer(&fakeRoutes{}, WithRouteWarmer(warmer)).Handler(), http.MethodPost, "/api/v1/routes/warm", body)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "redis down")
	})

	t.Run("missing order id", func(t *testing.T) {
		warmer := &fakeWarmer{}

		rec := do(t, newTestServer(&fakeRoutes{}, WithRouteWarmer(warmer)).Handler(), http.MethodPost, "/api/v1/routes/warm", `{"origin":"a","destination":"b"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, warmer.got)
	})
}

func TestHealth(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		rec := do(t, newTestServer(&fakeRoutes{}).Handler(), http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decodeBody[models.HealthResponse](t, rec).Status)
	})

	t.Run("degraded dependency", func(t *testing.T) {
		srv := newTestServer(&fakeRoutes{}, WithHealthCheck("redis", fakeCheck(false)), WithHealthCheck("cache", fakeCheck(true)))

		rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		resp := decodeBody[models.HealthResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, map[string]string{"redis": "unavailable", "cache": "ok"}, resp.Checks)
	})
}

func TestMiddleware(t *testing.T) {
	h := newTestServer(&fakeRoutes{}).Handler()

	t.Run("assigns a request id", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/health", "")

		_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
		assert.NoError(t, err)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})

	t.Run("keeps a valid incoming id", func(t *testing.T) {
		id := uuid.New().String()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, id)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, id, rec.Header().Get(requestIDHeader))
	})

	t.Run("replaces a malformed incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "<script>")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.NotEqual(t, "<script>", rec.Header().Get(requestIDHeader))
	})

	t.Run("recovers from panics", func(t *testing.T) {
		panicky := Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
