package location

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gosom/courier-routes/cache"
	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

// DefaultCallBudget bounds the external calls of one reference resolution.
const DefaultCallBudget = 6

type ResolverOption func(*Resolver)

func WithCache(c cache.Cache[models.Resolved]) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

func WithHopBudget(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 && n <= MaxHops {
			r.hopBudget = n
		}
	}
}

func WithCallBudget(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.callBudget = n
		}
	}
}

// Resolver runs the resolution pipeline: classification, then extraction,
// expansion, place identifier decoding or geocoding depending on the kind.
// It always produces a point or a routable string for anything that is not
// unresolvable.
type Resolver struct {
	expander   *Expander
	places     *PlaceResolver
	geocoder   *Geocoder
	cache      cache.Cache[models.Resolved]
	flight     cache.Flight[models.Resolved]
	hopBudget  int
	callBudget int
	logger     *zap.Logger
}

func NewResolver(expander *Expander, places *PlaceResolver, geocoder *Geocoder, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		expander:   expander,
		places:     places,
		geocoder:   geocoder,
		cache:      cache.Noop[models.Resolved]{},
		hopBudget:  MaxHops,
		callBudget: DefaultCallBudget,
		logger:     logger.Named("resolver"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type outcome struct {
	resolved  models.Resolved
	cacheable bool
}

func passthrough(value string, cacheable bool) outcome {
	return outcome{resolved: models.NewRoutable(value, models.ViaOriginalLinkPassthrough), cacheable: cacheable}
}

// transient reports expansion failures that may not repeat on the next try.
func transient(err error) bool {
	return errors.Is(err, ErrHopTimeout) || errors.Is(err, models.ErrNoConnectivity)
}

// Resolve classifies raw and resolves it. Results are cached by normalized
// reference and concurrent resolutions of the same reference share one run.
func (r *Resolver) Resolve(ctx context.Context, raw string) (models.Resolved, error) {
	ref := Classify(raw)

	switch ref.Kind {
	case models.KindUnresolvable:
		return models.Resolved{}, models.NewFailure(models.CodeUnresolvableReference,
			fmt.Sprintf("%q is not a coordinate pair, map link or address", clip(raw)), nil)
	case models.KindCoordinates:
		c, _ := ParseCoordinates(ref.Normalized)
		return models.NewPoint(c, RankExact, models.ViaDirectExtraction), nil
	}

	key := cache.Key("ref", ref.Normalized)

	if v, ok := r.cache.Get(ctx, key); ok {
		return v, nil
	}

	res, err := r.flight.Do(ctx, key, func() (models.Resolved, error) {
		out, err := r.resolve(ctx, ref)
		if err != nil {
			return models.Resolved{}, err
		}

		if out.cacheable && ctx.Err() == nil {
			r.cache.Put(ctx, key, out.resolved)
		}

		return out.resolved, nil
	})
	if err != nil {
		r.logger.Warn("resolution failed", zap.String("reference", ref.Normalized), zap.Error(err))
		return models.Resolved{}, toFailure(ctx, err)
	}

	r.logger.Debug("resolved reference",
		zap.String("reference", ref.Normalized),
		zap.Stringer("kind", ref.Kind),
		zap.Stringer("via", res.Via),
		zap.String("value", res.Value()),
	)

	return res, nil
}

// Reexpand expands raw again without consulting the cache. The boolean is
// false when raw is not a short link.
func (r *Resolver) Reexpand(ctx context.Context, raw string) (models.Resolved, bool, error) {
	ref := Classify(raw)
	if ref.Kind != models.KindShortLink {
		return models.Resolved{}, false, nil
	}

	ctx, _ = provider.WithBudget(ctx, r.callBudget)

	out, err := r.resolveShortLink(ctx, ref.Normalized)
	if err != nil {
		return models.Resolved{}, true, toFailure(ctx, err)
	}

	if out.cacheable && ctx.Err() == nil {
		r.cache.Put(ctx, cache.Key("ref", ref.Normalized), out.resolved)
	}

	return out.resolved, true, nil
}

// GeocodeFallback geocodes the text behind raw: free text as is, links by
// their place name segment. The boolean reports whether a point was found.
func (r *Resolver) GeocodeFallback(ctx context.Context, raw string) (models.Resolved, bool, error) {
	ref := Classify(raw)

	ctx, _ = provider.WithBudget(ctx, r.callBudget)

	var text string

	switch ref.Kind {
	case models.KindCoordinates:
		c, _ := ParseCoordinates(ref.Normalized)
		return models.NewPoint(c, RankExact, models.ViaDirectExtraction), true, nil
	case models.KindFreeText:
		if c, ok := r.geocoder.DecodePlusCode(ref.Normalized); ok {
			return models.NewPoint(c, RankPlusCode, models.ViaPlusCodeDecode), true, nil
		}

		text = ref.Normalized
	case models.KindLongLinkWithCoords, models.KindLongLinkPlaceOnly:
		text = PlaceName(ref.Normalized)
	case models.KindShortLink:
		exp, err := r.expander.Expand(ctx, ref.Normalized, r.hopBudget)

		switch {
		case err == nil && exp.Point != nil:
			return models.NewPoint(*exp.Point, exp.Rank, models.ViaExpandedLinkExtraction), true, nil
		case err == nil:
			text = PlaceName(exp.FinalURL)
		case errors.Is(err, ErrExpansionFailed), errors.Is(err, provider.ErrBudgetExhausted):
			return models.Resolved{}, false, nil
		default:
			return models.Resolved{}, false, toFailure(ctx, err)
		}
	}

	if text == "" {
		return models.Resolved{}, false, nil
	}

	c, ok, err := r.geocoder.Geocode(ctx, text)
	if err != nil {
		if errors.Is(err, provider.ErrBudgetExhausted) {
			return models.Resolved{}, false, nil
		}

		return models.Resolved{}, false, toFailure(ctx, err)
	}

	if !ok {
		return models.Resolved{}, false, nil
	}

	return models.NewPoint(c, RankGeocoded, models.ViaTextGeocode), true, nil
}

func (r *Resolver) resolve(ctx context.Context, ref models.Reference) (outcome, error) {
	ctx, budget := provider.WithBudget(ctx, r.callBudget)

	defer func() {
		r.logger.Debug("external calls", zap.String("reference", ref.Normalized), zap.Int("calls", budget.Used()))
	}()

	switch ref.Kind {
	case models.KindLongLinkWithCoords:
		c, rank, _ := Extract(ref.Normalized)
		return outcome{resolved: models.NewPoint(c, rank, models.ViaDirectExtraction), cacheable: true}, nil
	case models.KindShortLink:
		return r.resolveShortLink(ctx, ref.Normalized)
	case models.KindLongLinkPlaceOnly:
		return r.resolveLink(ctx, ref.Normalized, ref.Normalized)
	default:
		return r.resolveText(ctx, ref.Normalized)
	}
}

func (r *Resolver) resolveShortLink(ctx context.Context, link string) (outcome, error) {
	exp, err := r.expander.Expand(ctx, link, r.hopBudget)

	switch {
	case err == nil && exp.Point != nil:
		return outcome{resolved: models.NewPoint(*exp.Point, exp.Rank, models.ViaExpandedLinkExtraction), cacheable: true}, nil
	case err == nil:
		return r.resolveLink(ctx, exp.FinalURL, link)
	case errors.Is(err, ErrExpansionFailed):
		r.logger.Debug("passing short link through", zap.String("reference", link), zap.Error(err))
		return passthrough(link, !transient(err)), nil
	default:
		return r.degrade(link, err)
	}
}

// resolveLink handles a long link without coordinates. original is what is
// passed through when nothing else works.
func (r *Resolver) resolveLink(ctx context.Context, target, original string) (outcome, error) {
	res, ok, err := r.places.Resolve(ctx, target)
	if err != nil {
		return r.degrade(original, err)
	}

	if ok {
		return outcome{resolved: res, cacheable: true}, nil
	}

	if name := PlaceName(target); name != "" {
		c, ok, err := r.geocoder.Geocode(ctx, name)
		if err != nil {
			return r.degrade(original, err)
		}

		if ok {
			return outcome{resolved: models.NewPoint(c, RankGeocoded, models.ViaTextGeocode), cacheable: true}, nil
		}
	}

	return passthrough(original, true), nil
}

func (r *Resolver) resolveText(ctx context.Context, text string) (outcome, error) {
	if c, ok := r.geocoder.DecodePlusCode(text); ok {
		return outcome{resolved: models.NewPoint(c, RankPlusCode, models.ViaPlusCodeDecode), cacheable: true}, nil
	}

	c, ok, err := r.geocoder.Geocode(ctx, text)
	if err != nil {
		return r.degrade(text, err)
	}

	if ok {
		return outcome{resolved: models.NewPoint(c, RankGeocoded, models.ViaTextGeocode), cacheable: true}, nil
	}

	return passthrough(text, true), nil
}

// degrade passes value through when the call budget ran out. Any other error
// ends the resolution.
func (r *Resolver) degrade(value string, err error) (outcome, error) {
	if errors.Is(err, provider.ErrBudgetExhausted) {
		r.logger.Warn("call budget exhausted", zap.String("reference", value))
		return passthrough(value, false), nil
	}

	return outcome{}, err
}

func toFailure(ctx context.Context, err error) error {
	var f *models.Failure
	if errors.As(err, &f) {
		return err
	}

	switch {
	case ctx.Err() != nil:
		return models.NewFailure(models.CodeNoConnectivity, "resolution cancelled", err)
	case errors.Is(err, models.ErrNoConnectivity):
		return models.NewFailure(models.CodeNoConnectivity, "mapping provider unreachable", err)
	default:
		return models.NewFailure(models.CodeOf(err), "location resolution failed", err)
	}
}

func clip(s string) string {
	const maxLen = 80

	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}

	return string(r[:maxLen]) + "…"
}
