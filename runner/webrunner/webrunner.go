// Package webrunner serves the HTTP API.
package webrunner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gosom/courier-routes/runner"
	"github.com/gosom/courier-routes/tlmt"
	"github.com/gosom/courier-routes/web"
)

const cacheReportInterval = time.Minute

type webrunner struct {
	srv    *web.Server
	svc    *runner.Services
	cfg    *runner.Config
	logger *zap.Logger
}

func New(cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWeb {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := runner.NewServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	return newWithServices(cfg, svc, logger), nil
}

func newWithServices(cfg *runner.Config, svc *runner.Services, logger *zap.Logger) *webrunner {
	var opts []web.Option

	// Without Redis the warm-up endpoint reports itself unavailable.
	if svc.Redis != nil {
		opts = append(opts,
			web.WithRouteWarmer(svc.Redis),
			web.WithHealthCheck("redis", svc.Redis),
		)
	}

	srv := web.New(web.Config{
		Addr:           cfg.Addr,
		RequestTimeout: cfg.RequestTimeout,
	}, svc.Resolver, svc.Routes, logger, opts...)

	return &webrunner{
		srv:    srv,
		svc:    svc,
		cfg:    cfg,
		logger: logger.Named("webrunner"),
	}
}

func (w *webrunner) Run(ctx context.Context) error {
	runner.SendEvent(ctx, func() tlmt.Event {
		return tlmt.NewStartEvent(w.cfg.ModeName())
	})

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.svc.ReportCaches(ctx, cacheReportInterval)
	})

	egroup.Go(func() error {
		return w.srv.Start(ctx)
	})

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	return w.svc.Close()
}
