package app

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
)

// Service is a long-running part of the indexer. Run returns when ctx is
// cancelled or the service fails.
type Service interface {
	Run(ctx context.Context) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Run(ctx context.Context) error { return f(ctx) }

// Runner runs services together until the first one returns, then stops the
// rest.
type Runner struct {
	group    run.Group
	logger   zerolog.Logger
	services int
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger.With().Str("component", "runner").Logger()}
}

// Add registers a named service.
func (r *Runner) Add(ctx context.Context, name string, service Service) *Runner {
	ctx, cancel := context.WithCancelCause(ctx)
	logger := r.logger.With().Str("service", name).Logger()

	r.group.Add(func() error {
		logger.Debug().Msg("Service starting")
		err := service.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Service failed")
		} else {
			logger.Info().Msg("Service stopped")
		}
		return err
	}, func(err error) {
		cancel(err)
	})
	r.services++
	return r
}

// Run blocks until a service returns or the process receives SIGINT or
// SIGTERM. A signal or cancelling ctx is a clean shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if r.services == 0 {
		return errors.New("no services to run")
	}
	r.group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := r.group.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		r.logger.Info().Str("signal", sig.Signal.String()).Msg("Received shutdown signal")
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
