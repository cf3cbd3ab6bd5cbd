// Package runner holds the configuration and the shared wiring of the run
// modes: the HTTP API, batch files and queue workers.
package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/gosom/courier-routes/cache"
	"github.com/gosom/courier-routes/location"
	"github.com/gosom/courier-routes/provider"
	"github.com/gosom/courier-routes/redis/config"
	"github.com/gosom/courier-routes/route"
	"github.com/gosom/courier-routes/tlmt"
	"github.com/gosom/courier-routes/tlmt/gonoop"
	"github.com/gosom/courier-routes/tlmt/goposthog"
)

const (
	RunModeWeb = iota + 1
	RunModeFile
	RunModeWorker
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type S3Uploader interface {
	Upload(ctx context.Context, bucketName, key string, body io.Reader) error
}

type Config struct {
	RunMode int
	Debug   bool
	Addr    string

	InputFile   string
	ResultsFile string
	JSON        bool
	Concurrency int

	APIKey          string
	ProviderBaseURL string
	Language        string
	Region          string
	Qualifier       string
	ProviderTimeout time.Duration
	HopTimeout      time.Duration
	RequestTimeout  time.Duration

	LinkCacheTTL      time.Duration
	LinkCacheSize     int
	RouteCacheTTL     time.Duration
	RouteCacheSize    int
	RouteCallBudget   int
	ResolveCallBudget int

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	S3Bucket     string
	S3Uploader   S3Uploader

	// Redis is nil unless REDIS_URL or REDIS_HOST is set.
	Redis *config.RedisConfig

	DisableTelemetry bool
}

// ParseConfig reads the command line and the environment. It panics on
// contradictory settings.
func ParseConfig() *Config {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		panic(err)
	}

	if cfg.Redis == nil && config.Enabled() {
		cfg.Redis, err = config.NewRedisConfig()
		if err != nil {
			panic(err)
		}
	}

	if cfg.RunMode == RunModeWorker && cfg.Redis == nil {
		panic(fmt.Errorf("%w: worker mode requires REDIS_URL or REDIS_HOST", ErrInvalidConfig))
	}

	return cfg
}

func parseConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	cfg := Config{}

	var worker bool

	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	fs.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on for the web server")
	fs.BoolVar(&worker, "worker", false, "process route warm-up tasks from Redis")
	fs.StringVar(&cfg.InputFile, "input", "", "path to a tab separated file of origin/destination pairs, or stdin")
	fs.StringVar(&cfg.ResultsFile, "results", "stdout", "path to the results file [default: stdout]")
	fs.BoolVar(&cfg.JSON, "json", false, "produce JSON output instead of CSV")
	fs.IntVar(&cfg.Concurrency, "c", max(runtime.NumCPU()/2, 1), "routes computed concurrently in file mode [default: half of CPU cores]")
	fs.StringVar(&cfg.ProviderBaseURL, "provider-url", provider.DefaultBaseURL, "base URL of the maps web services")
	fs.StringVar(&cfg.Language, "lang", "es", "language of addresses returned by the provider")
	fs.StringVar(&cfg.Region, "region", "bo", "region bias of provider lookups")
	fs.StringVar(&cfg.Qualifier, "qualifier", location.DefaultQualifier, "text appended to free text references before geocoding")
	fs.DurationVar(&cfg.ProviderTimeout, "provider-timeout", provider.DefaultTimeout, "timeout of a single provider call")
	fs.DurationVar(&cfg.HopTimeout, "hop-timeout", location.DefaultHopTimeout, "timeout of a single redirect hop")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", 25*time.Second, "timeout of a single API request")
	fs.DurationVar(&cfg.LinkCacheTTL, "link-cache-ttl", cache.DefaultLinkTTL, "lifetime of cached link resolutions")
	fs.IntVar(&cfg.LinkCacheSize, "link-cache-size", cache.DefaultLinkCapacity, "capacity of the link resolution cache")
	fs.DurationVar(&cfg.RouteCacheTTL, "route-cache-ttl", cache.DefaultRouteTTL, "lifetime of cached routes")
	fs.IntVar(&cfg.RouteCacheSize, "route-cache-size", cache.DefaultRouteCapacity, "capacity of the route cache")
	fs.IntVar(&cfg.RouteCallBudget, "route-call-budget", route.DefaultCallBudget, "external calls allowed per route computation")
	fs.IntVar(&cfg.ResolveCallBudget, "resolve-call-budget", location.DefaultCallBudget, "external calls allowed per reference resolution")
	fs.StringVar(&cfg.AwsAccessKey, "aws-access-key", "", "AWS access key")
	fs.StringVar(&cfg.AwsSecretKey, "aws-secret-key", "", "AWS secret key")
	fs.StringVar(&cfg.AwsRegion, "aws-region", "", "AWS region")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", "", "S3 bucket receiving file mode results")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.APIKey = getenv("GOOGLE_MAPS_API_KEY")
	cfg.DisableTelemetry = getenv("DISABLE_TELEMETRY") == "1"

	if cfg.AwsAccessKey == "" {
		cfg.AwsAccessKey = getenv("MY_AWS_ACCESS_KEY")
	}

	if cfg.AwsSecretKey == "" {
		cfg.AwsSecretKey = getenv("MY_AWS_SECRET_KEY")
	}

	if cfg.AwsRegion == "" {
		cfg.AwsRegion = getenv("MY_AWS_REGION")
	}

	switch {
	case worker && cfg.InputFile != "":
		return nil, fmt.Errorf("%w: -worker and -input are mutually exclusive", ErrInvalidConfig)
	case worker:
		cfg.RunMode = RunModeWorker
	case cfg.InputFile != "":
		cfg.RunMode = RunModeFile
	default:
		cfg.RunMode = RunModeWeb
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: GOOGLE_MAPS_API_KEY must be set", ErrInvalidConfig)
	}

	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be greater than 0", ErrInvalidConfig)
	}

	if cfg.RouteCallBudget < 1 || cfg.ResolveCallBudget < 1 {
		return nil, fmt.Errorf("%w: call budgets must be greater than 0", ErrInvalidConfig)
	}

	if cfg.ResolveCallBudget > cfg.RouteCallBudget {
		return nil, fmt.Errorf("%w: resolve call budget exceeds the route call budget", ErrInvalidConfig)
	}

	if cfg.S3Bucket != "" {
		if cfg.RunMode != RunModeFile {
			return nil, fmt.Errorf("%w: -s3-bucket only applies to file mode", ErrInvalidConfig)
		}

		if cfg.ResultsFile == "stdout" {
			return nil, fmt.Errorf("%w: -s3-bucket needs a -results file", ErrInvalidConfig)
		}

		if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" || cfg.AwsRegion == "" {
			return nil, fmt.Errorf("%w: -s3-bucket needs AWS credentials and region", ErrInvalidConfig)
		}
	}

	return &cfg, nil
}

// ModeName is the run mode as reported in logs and telemetry.
func (c *Config) ModeName() string {
	switch c.RunMode {
	case RunModeWeb:
		return "web"
	case RunModeFile:
		return "file"
	case RunModeWorker:
		return "worker"
	default:
		return "unknown"
	}
}

var (
	telemetryOnce    sync.Once
	telemetry        tlmt.Telemetry
	telemetryEnabled bool
)

// Telemetry is PostHog when POSTHOG_API_KEY is set and DISABLE_TELEMETRY is
// not 1, a no-op otherwise.
func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		telemetry = gonoop.New()

		key := os.Getenv("POSTHOG_API_KEY")
		if os.Getenv("DISABLE_TELEMETRY") == "1" || key == "" {
			return
		}

		val, err := goposthog.New(key, "https://eu.i.posthog.com")
		if err != nil || val == nil {
			return
		}

		telemetry = val
		telemetryEnabled = true
	})

	return telemetry
}

// SendEvent builds and sends an event only when telemetry is enabled, so a
// disabled process never looks up its machine identity.
func SendEvent(ctx context.Context, build func() tlmt.Event) {
	t := Telemetry()
	if !telemetryEnabled {
		return
	}

	_ = t.Send(ctx, build())
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		paddingRight := max(contentWidth-runewidth.StringWidth(line), 0)

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

// Banner prints the startup banner to stderr.
func Banner(cfg *Config) {
	messages := []string{
		"🛵 courier-routes",
		"mode: " + cfg.ModeName(),
	}

	if cfg.RunMode == RunModeWeb {
		messages = append(messages, "listening on "+cfg.Addr)
	}

	if cfg.Redis != nil {
		messages = append(messages, "redis: "+cfg.Redis.Addr())
	}

	if cfg.DisableTelemetry {
		messages = append(messages, "telemetry disabled")
	}

	fmt.Fprintln(os.Stderr, banner(messages, 0))
}
