package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/cache"
	"github.com/gosom/courier-routes/location"
	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
	"github.com/gosom/courier-routes/redis"
	"github.com/gosom/courier-routes/route"
)

const (
	linkCachePrefix  = "courier:link:"
	routeCachePrefix = "courier:route:"
)

// Services is the resolution and routing stack shared by every run mode.
type Services struct {
	Resolver *location.Resolver
	Routes   *route.Calculator
	// Redis is nil when Redis is not configured.
	Redis *redis.Client

	linkMemory  *cache.Memory[models.Resolved]
	routeMemory *cache.Memory[models.RouteResult]
	logger      *zap.Logger
}

// NewServices wires the provider client, the caches, the resolver and the
// route calculator. With Redis configured the caches gain a shared tier
// behind the in-memory one.
func NewServices(cfg *Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := provider.New(provider.Config{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.ProviderBaseURL,
		Language: cfg.Language,
		Region:   cfg.Region,
		Timeout:  cfg.ProviderTimeout,
	}, logger)

	s := &Services{
		linkMemory:  cache.NewMemory[models.Resolved](cfg.LinkCacheSize, cfg.LinkCacheTTL),
		routeMemory: cache.NewMemory[models.RouteResult](cfg.RouteCacheSize, cfg.RouteCacheTTL),
		logger:      logger.Named("services"),
	}

	var (
		links  cache.Cache[models.Resolved]    = s.linkMemory
		routes cache.Cache[models.RouteResult] = s.routeMemory
	)

	if cfg.Redis != nil {
		rc, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		s.Redis = rc

		links = cache.NewTiered[models.Resolved](links,
			cache.NewRedis[models.Resolved](rc.Redis(), linkCachePrefix, cfg.LinkCacheTTL, logger))
		routes = cache.NewTiered[models.RouteResult](routes,
			cache.NewRedis[models.RouteResult](rc.Redis(), routeCachePrefix, cfg.RouteCacheTTL, logger))
	}

	expander := location.NewExpander(logger, location.WithHopTimeout(cfg.HopTimeout))
	places := location.NewPlaceResolver(client, logger)
	geocoder := location.NewGeocoder(client, location.GeocoderConfig{Qualifier: cfg.Qualifier}, logger)

	s.Resolver = location.NewResolver(expander, places, geocoder, logger,
		location.WithCache(links),
		location.WithCallBudget(cfg.ResolveCallBudget),
	)

	s.Routes = route.New(client, s.Resolver, logger,
		route.WithCache(routes),
		route.WithCallBudget(cfg.RouteCallBudget),
	)

	return s, nil
}

// CacheStats returns the live entries of the in-memory caches.
func (s *Services) CacheStats() (links, routes int) {
	return s.linkMemory.Len(), s.routeMemory.Len()
}

// ReportCaches logs the cache occupancy every interval until ctx is done.
func (s *Services) ReportCaches(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			links, routes := s.CacheStats()

			s.logger.Debug("cache occupancy",
				zap.Int("links", links),
				zap.Int("routes", routes),
			)
		}
	}
}

func (s *Services) Close() error {
	var err error

	s.linkMemory.Purge()
	s.routeMemory.Purge()

	if s.Redis != nil {
		err = multierr.Append(err, s.Redis.Close())
	}

	return err
}
