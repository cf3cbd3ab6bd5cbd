package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

const placePage = `<!DOCTYPE html>
<html><head>
<meta content="https://maps.google.com/maps/api/staticmap?center=-17.3935%2C-66.157&amp;zoom=15&amp;size=256x256" property="og:image">
<title>Plaza</title>
</head><body></body></html>`

// dropConnection closes the connection without writing a response.
func dropConnection(t *testing.T) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err) {
			return
		}

		conn.Close()
	}
}

func newRedirectServer(t *testing.T, hits *int64, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	for p, h := range routes {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(hits, 1)
			h(w, r)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func TestExpand(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("stops at the first hop with coordinates", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s":           redirectTo("/maps/place/Plaza/data=!3m1!4b1!8m2!3d-17.3935!4d-66.157"),
			"/maps/place/": func(w http.ResponseWriter, _ *http.Request) { t.Error("must not follow a link that has coordinates") },
		})

		exp, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 2)
		require.NoError(t, err)
		require.NotNil(t, exp.Point)
		assert.Equal(t, models.Coordinates{Lat: -17.3935, Lng: -66.157}, *exp.Point)
		assert.Equal(t, RankPlaceMarker, exp.Rank)
		assert.Equal(t, 1, exp.Hops)
		assert.EqualValues(t, 1, atomic.LoadInt64(&hits))
	})

	t.Run("follows two hops", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s":      redirectTo("/middle"),
			"/middle": redirectTo("/maps/@-17.3935,-66.157,15z"),
		})

		exp, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 2)
		require.NoError(t, err)
		require.NotNil(t, exp.Point)
		assert.Equal(t, RankViewportZoom, exp.Rank)
		assert.Equal(t, 2, exp.Hops)
	})

	t.Run("reads the preview image of a place page", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s": redirectTo("/maps/place/Plaza/"),
			"/maps/place/": func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte(placePage))
			},
		})

		exp, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 2)
		require.NoError(t, err)
		require.NotNil(t, exp.Point)
		assert.Equal(t, RankQueryParam, exp.Rank)
		assert.Equal(t, -17.3935, exp.Point.Lat)
		assert.Equal(t, srv.URL+"/maps/place/Plaza/", exp.FinalURL)
	})

	t.Run("non redirect response ends the walk", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
		})

		exp, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 2)
		require.NoError(t, err)
		assert.Nil(t, exp.Point)
		assert.Equal(t, srv.URL+"/s", exp.FinalURL)
	})

	t.Run("still on a short link host", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s": redirectTo("https://maps.app.goo.gl/AbCdEf"),
		})

		exp, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 1)
		require.ErrorIs(t, err, ErrExpansionFailed)
		assert.NotErrorIs(t, err, ErrHopTimeout)
		assert.Equal(t, "https://maps.app.goo.gl/AbCdEf", exp.FinalURL)
		assert.EqualValues(t, 1, atomic.LoadInt64(&hits))
	})

	t.Run("timed out hop is retried once then fails", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s": func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				redirectTo("/maps/@-17.39,-66.15,15z")(w, r)
			},
		})

		_, err := NewExpander(logger, WithHopTimeout(50*time.Millisecond)).Expand(ctx, srv.URL+"/s", 2)
		require.ErrorIs(t, err, ErrExpansionFailed)
		assert.ErrorIs(t, err, ErrHopTimeout)
		assert.NotErrorIs(t, err, models.ErrNoConnectivity)
		assert.EqualValues(t, 2, atomic.LoadInt64(&hits))
	})

	t.Run("refused connection is surfaced", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		ctx, budget := provider.WithBudget(ctx, 6)

		_, err := NewExpander(logger).Expand(ctx, base+"/s", 2)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrExpansionFailed)
		assert.ErrorIs(t, err, models.ErrNoConnectivity)
		assert.Equal(t, 1, budget.Used())
	})

	t.Run("dropped connection keeps the transport cause", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s": dropConnection(t),
		})

		_, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 2)
		require.ErrorIs(t, err, ErrExpansionFailed)
		assert.ErrorIs(t, err, models.ErrNoConnectivity)
		assert.NotErrorIs(t, err, ErrHopTimeout)

		var terr *provider.TransportError
		assert.ErrorAs(t, err, &terr)
	})

	t.Run("budget exhaustion is surfaced", func(t *testing.T) {
		var hits int64

		srv := newRedirectServer(t, &hits, map[string]http.HandlerFunc{
			"/s":      redirectTo("/middle"),
			"/middle": redirectTo("/end"),
		})

		ctx, _ := provider.WithBudget(ctx, 1)

		_, err := NewExpander(logger).Expand(ctx, srv.URL+"/s", 2)
		require.ErrorIs(t, err, provider.ErrBudgetExhausted)
		assert.EqualValues(t, 1, atomic.LoadInt64(&hits))
	})
}
