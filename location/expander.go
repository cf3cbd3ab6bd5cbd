package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

const (
	// MaxHops caps the redirects followed for a single expansion.
	MaxHops = 2

	DefaultHopTimeout = 3 * time.Second

	maxPageBytes = 1 << 20
	userAgent    = "Mozilla/5.0 (compatible; courier-routes/1.0)"
)

var (
	// ErrExpansionFailed means the link could not be expanded into anything
	// useful. Callers fall back to passing the original link through.
	ErrExpansionFailed = errors.New("link expansion failed")

	// ErrHopTimeout marks expansions that failed because a hop timed out
	// twice. Such failures are transient.
	ErrHopTimeout = errors.New("redirect hop timed out")
)

// Expansion is the outcome of following a short link.
type Expansion struct {
	FinalURL string
	Point    *models.Coordinates
	Rank     int
	Hops     int
}

type ExpanderOption func(*Expander)

func WithHopTimeout(d time.Duration) ExpanderOption {
	return func(e *Expander) {
		if d > 0 {
			e.hopTimeout = d
		}
	}
}

// WithTransport replaces the round tripper used for hops.
func WithTransport(rt http.RoundTripper) ExpanderOption {
	return func(e *Expander) {
		e.client.Transport = rt
	}
}

// Expander follows redirects one hop at a time so that every hop gets its
// own timeout and the extractor can run on every intermediate URL.
type Expander struct {
	client     *http.Client
	hopTimeout time.Duration
	logger     *zap.Logger
}

func NewExpander(logger *zap.Logger, opts ...ExpanderOption) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Expander{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		hopTimeout: DefaultHopTimeout,
		logger:     logger.Named("expander"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type hopResult struct {
	status   int
	location string
	page     string
}

// Expand follows at most hopBudget redirects starting at rawURL. It returns
// as soon as an intermediate URL carries coordinates. Timeouts, non redirect
// responses and budget exhaustion end the walk without an error unless the
// walk is still on a short link host, in which case ErrExpansionFailed is
// returned. Refused connections, name resolution failures, an exhausted call
// budget and cancellation are returned as is.
func (e *Expander) Expand(ctx context.Context, rawURL string, hopBudget int) (Expansion, error) {
	if hopBudget <= 0 || hopBudget > MaxHops {
		hopBudget = MaxHops
	}

	current := withScheme(rawURL)
	ans := Expansion{FinalURL: current}

	for ans.Hops < hopBudget {
		res, err := e.hop(ctx, current)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, provider.ErrBudgetExhausted) || provider.Refused(err) {
				return ans, err
			}

			e.logger.Debug("hop failed", zap.String("url", current), zap.Error(err))

			if provider.IsTimeout(err) {
				return ans, fmt.Errorf("%w: %w", ErrExpansionFailed, ErrHopTimeout)
			}

			return ans, fmt.Errorf("%w: %w", ErrExpansionFailed, err)
		}

		ans.Hops++

		if res.location == "" {
			if c, rank, ok := Extract(res.page); ok {
				ans.Point, ans.Rank = &c, rank
				return ans, nil
			}

			break
		}

		current = res.location
		ans.FinalURL = current

		if c, rank, ok := Extract(current); ok {
			ans.Point, ans.Rank = &c, rank
			return ans, nil
		}
	}

	if IsShortLink(ans.FinalURL) {
		return ans, fmt.Errorf("%w: still on a short link host after %d hops", ErrExpansionFailed, ans.Hops)
	}

	return ans, nil
}

// hop issues one request, retrying once if it timed out.
func (e *Expander) hop(ctx context.Context, target string) (hopResult, error) {
	const maxAttempts = 2

	var (
		res hopResult
		err error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = e.fetch(ctx, target)
		if err == nil || !provider.IsTimeout(err) {
			return res, err
		}

		e.logger.Warn("redirect hop timed out", zap.String("url", target), zap.Int("attempt", attempt))
	}

	return res, err
}

func (e *Expander) fetch(ctx context.Context, target string) (hopResult, error) {
	if err := provider.Spend(ctx); err != nil {
		return hopResult{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.hopTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return hopResult{}, fmt.Errorf("expander: create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "es,en;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return hopResult{}, provider.Classify(ctx, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	ans := hopResult{status: resp.StatusCode}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc, err := resp.Location()
		if err != nil {
			return ans, fmt.Errorf("expander: redirect without location: %w", err)
		}

		ans.location = loc.String()

		return ans, nil
	}

	if resp.StatusCode != http.StatusOK {
		return ans, nil
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return ans, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return ans, &provider.TransportError{Timeout: true, Err: err}
		}

		return ans, nil
	}

	ans.page = staticMapURL(doc)

	return ans, nil
}

// staticMapURL returns the preview image link of a place page. Its center
// parameter is the place location.
func staticMapURL(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property='og:image']`, `meta[itemprop='image']`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.Contains(v, "center=") {
			return v
		}
	}

	return ""
}

func withScheme(s string) string {
	if LooksLikeURL(s) && !strings.HasPrefix(strings.ToLower(s), "www.") {
		return s
	}

	return "https://" + s
}
