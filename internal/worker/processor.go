package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Job names.
const (
	JobCertificates = "certificates"
	JobDueDates     = "due-dates"
)

// ErrUnknownJob is returned for a job name with no registered handler.
var ErrUnknownJob = errors.New("unknown job")

// Handler executes a job for a given run date and returns its summary.
type Handler func(ctx context.Context, asOf time.Time) (any, error)

// Processor dispatches named jobs to their handlers.
type Processor struct {
	handlers map[string]Handler
	order    []string
	log      zerolog.Logger
}

func NewProcessor(log zerolog.Logger) *Processor {
	return &Processor{handlers: make(map[string]Handler), log: log}
}

// NewDailyProcessor registers the certificate run followed by the due-date run.
func NewDailyProcessor(certs *Coordinator, due *DueDateJob, log zerolog.Logger) *Processor {
	p := NewProcessor(log)
	p.RegisterHandler(JobCertificates, func(ctx context.Context, asOf time.Time) (any, error) {
		return certs.Run(ctx, asOf)
	})
	p.RegisterHandler(JobDueDates, func(ctx context.Context, asOf time.Time) (any, error) {
		return due.Run(ctx, asOf)
	})
	return p
}

// RegisterHandler binds a handler to a job name.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	if _, ok := p.handlers[jobType]; !ok {
		p.order = append(p.order, jobType)
	}
	p.handlers[jobType] = handler
}

// Jobs lists registered jobs in registration order.
func (p *Processor) Jobs() []string {
	return append([]string(nil), p.order...)
}

// RunJob executes a single job.
func (p *Processor) RunJob(ctx context.Context, jobType string, asOf time.Time) (any, error) {
	handler, ok := p.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, jobType)
	}
	return handler(ctx, asOf)
}

// RunAll executes every job in order. A failed job does not stop later ones;
// the errors are joined.
func (p *Processor) RunAll(ctx context.Context, asOf time.Time) (map[string]any, error) {
	results := make(map[string]any, len(p.order))
	var errs []error
	for _, name := range p.order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := p.RunJob(ctx, name, asOf)
		results[name] = res
		if err != nil {
			p.log.Error().Err(err).Str("job", name).Msg("job failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return results, errors.Join(errs...)
}
