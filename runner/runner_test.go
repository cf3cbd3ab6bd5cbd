package runner

import (
	"context"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/cache"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string {
		return vars[k]
	}
}

func parse(t *testing.T, args []string, vars map[string]string) (*Config, error) {
	t.Helper()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return parseConfig(fs, args, env(vars))
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parse(t, nil, map[string]string{"GOOGLE_MAPS_API_KEY": "key"})
	require.NoError(t, err)

	assert.Equal(t, RunModeWeb, cfg.RunMode)
	assert.Equal(t, "web", cfg.ModeName())
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, cache.DefaultLinkTTL, cfg.LinkCacheTTL)
	assert.Equal(t, cache.DefaultRouteCapacity, cfg.RouteCacheSize)
	assert.Equal(t, 20, cfg.RouteCallBudget)
	assert.Equal(t, 6, cfg.ResolveCallBudget)
	assert.Equal(t, 25*time.Second, cfg.RequestTimeout)
	assert.GreaterOrEqual(t, cfg.Concurrency, 1)
}

func TestParseConfigModes(t *testing.T) {
	vars := map[string]string{"GOOGLE_MAPS_API_KEY": "key"}

	cfg, err := parse(t, []string{"-input", "pairs.tsv", "-results", "out.csv"}, vars)
	require.NoError(t, err)
	assert.Equal(t, RunModeFile, cfg.RunMode)

	cfg, err = parse(t, []string{"-worker"}, vars)
	require.NoError(t, err)
	assert.Equal(t, RunModeWorker, cfg.RunMode)
	assert.Equal(t, "worker", cfg.ModeName())
}

func TestParseConfigAwsFromEnv(t *testing.T) {
	cfg, err := parse(t, []string{"-input", "in.tsv", "-results", "out.csv", "-s3-bucket", "routes"}, map[string]string{
		"GOOGLE_MAPS_API_KEY": "key",
		"MY_AWS_ACCESS_KEY":   "ak",
		"MY_AWS_SECRET_KEY":   "sk",
		"MY_AWS_REGION":       "us-east-1",
		"DISABLE_TELEMETRY":   "1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ak", cfg.AwsAccessKey)
	assert.Equal(t, "us-east-1", cfg.AwsRegion)
	assert.True(t, cfg.DisableTelemetry)
}

func TestParseConfigInvalid(t *testing.T) {
	withKey := map[string]string{"GOOGLE_MAPS_API_KEY": "key"}

	tests := []struct {
		name string
		args []string
		vars map[string]string
		msg  string
	}{
		{"missing api key", nil, nil, "GOOGLE_MAPS_API_KEY"},
		{"worker and input", []string{"-worker", "-input", "x"}, withKey, "mutually exclusive"},
		{"zero concurrency", []string{"-c", "0"}, withKey, "concurrency"},
		{"resolve budget above route budget", []string{"-resolve-call-budget", "30"}, withKey, "exceeds"},
		{"s3 outside file mode", []string{"-s3-bucket", "b"}, withKey, "file mode"},
		{"s3 to stdout", []string{"-input", "x", "-s3-bucket", "b"}, withKey, "-results"},
		{"s3 without credentials", []string{"-input", "x", "-results", "o.csv", "-s3-bucket", "b"}, withKey, "credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args, tt.vars)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBanner(t *testing.T) {
	out := banner([]string{"courier-routes", "mode: web"}, 30)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4)

	for _, line := range lines {
		assert.Equal(t, 30, runewidth.StringWidth(line), line)
	}
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"abcd", "ef"}, wrapText("abcdef", 4))
	assert.Nil(t, wrapText("", 4))
}

func TestNewServicesWithoutRedis(t *testing.T) {
	cfg, err := parse(t, nil, map[string]string{"GOOGLE_MAPS_API_KEY": "key"})
	require.NoError(t, err)

	svc, err := NewServices(cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Nil(t, svc.Redis)
	assert.NotNil(t, svc.Resolver)
	assert.NotNil(t, svc.Routes)

	// Coordinate pairs resolve without any external call.
	res, err := svc.Resolver.Resolve(context.Background(), "-17.393,-66.157")
	require.NoError(t, err)
	assert.True(t, res.IsPoint())

	links, routes := svc.CacheStats()
	assert.Equal(t, 0, links)
	assert.Equal(t, 0, routes)

	require.NoError(t, svc.Close())
}

func TestReportCachesStops(t *testing.T) {
	cfg, err := parse(t, nil, map[string]string{"GOOGLE_MAPS_API_KEY": "key"})
	require.NoError(t, err)

	svc, err := NewServices(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, svc.ReportCaches(ctx, 5*time.Millisecond))
}
