package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"course-credentials/internal/config"
	"course-credentials/internal/crm"
	"course-credentials/internal/documents"
	"course-credentials/internal/models"
	"course-credentials/internal/observability"
	"course-credentials/internal/storage"
	"course-credentials/internal/store"
	"course-credentials/internal/telemetry"
)

// CertificateCRM is the record source and update sink of a certificate run.
type CertificateCRM interface {
	Search(ctx context.Context, objectType string, req crm.SearchRequest) ([]models.EligibleRecord, error)
	BatchUpdate(ctx context.Context, objectType string, payload models.BatchUpdate) error
}

// StoreOpener acquires the identifier store for a single run.
type StoreOpener func(ctx context.Context) (store.IdentifierStore, error)

// Coordinator runs one certificate batch end to end.
type Coordinator struct {
	cfg     config.Config
	crm     CertificateCRM
	open    StoreOpener
	docs    documents.Generator
	persist storage.Persister
	log     zerolog.Logger
}

// NewCoordinator wires a coordinator.
func NewCoordinator(cfg config.Config, source CertificateCRM, open StoreOpener, docs documents.Generator, persist storage.Persister, log zerolog.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, crm: source, open: open, docs: docs, persist: persist, log: log}
}

// Run fetches eligible records, processes them in source order and dispatches
// the successes in one batch update. Per-record failures are logged and
// skipped. A store outage stops the run after dispatching what already
// succeeded, since those identifiers are committed. Cancelling ctx does not
// stop a run: once started it traverses every eligible record.
func (c *Coordinator) Run(ctx context.Context, asOf time.Time) (summary models.RunSummary, err error) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	summary = models.RunSummary{RunID: uuid.NewString(), AsOf: asOf.Format(dateIssuedLayout)}
	log := c.log.With().Str("run_id", summary.RunID).Str("job", JobCertificates).Logger()

	telemetry.RunsInFlight.Inc()
	ctx, span := otel.Tracer(observability.TracerName).Start(ctx, "certificate.run")
	defer func() {
		telemetry.RunsInFlight.Dec()
		telemetry.RunDuration.WithLabelValues(JobCertificates).Observe(time.Since(started).Seconds())
		span.SetAttributes(
			attribute.String("run_id", summary.RunID),
			attribute.Int("succeeded", summary.Succeeded),
			attribute.Int("failed", summary.Failed),
		)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	log.Info().Str("as_of", summary.AsOf).Msg("certificate run started")

	ids, err := c.open(ctx)
	if err != nil {
		return summary, fmt.Errorf("open identifier store: %w", err)
	}
	defer func() {
		if cerr := ids.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close identifier store")
		}
	}()

	records, err := c.crm.Search(ctx, c.cfg.CRMObjectType, crm.EligibleSearch(c.cfg.CRMPageLimit))
	if err != nil {
		return summary, fmt.Errorf("fetch eligible records: %w", err)
	}
	summary.Fetched = len(records)
	log.Info().Int("records", len(records)).Msg("eligible records fetched")

	pipeline := NewPipeline(c.cfg, ids, c.docs, c.persist, log)
	issued := issueProperties(asOf)

	var (
		payload models.BatchUpdate
		fatal   error
	)
	for _, rec := range records {
		out := pipeline.Process(ctx, rec, asOf)
		if out.Err != nil {
			summary.Failed++
			summary.FailedRefs = append(summary.FailedRefs, out.Reference)
			telemetry.RecordFailures.WithLabelValues(failureReason(out.Err)).Inc()
			log.Error().Err(out.Err).
				Str("reference", out.Reference).
				Str("stage", out.FailedAt).
				Msg("certificate record failed")
			if errors.Is(out.Err, store.ErrStoreUnavailable) {
				fatal = out.Err
				break
			}
			continue
		}

		for k, v := range issued {
			out.Properties[k] = v
		}
		payload.Add(rec.ID, out.Properties)
		summary.Succeeded++
		telemetry.CertificatesIssued.Inc()
		log.Info().
			Str("reference", out.Reference).
			Str("certificate_id", out.Identifier.Formatted).
			Bool("resumed", out.Resumed).
			Msg("certificate issued")
	}

	if payload.Len() > 0 {
		if derr := c.crm.BatchUpdate(ctx, c.cfg.CRMUpdateObjectType, payload); derr != nil {
			telemetry.BatchDispatches.WithLabelValues(JobCertificates, "error").Inc()
			log.Error().Err(derr).Int("records", payload.Len()).Msg("batch update failed")
			if fatal == nil {
				return summary, fmt.Errorf("dispatch batch update: %w", derr)
			}
		} else {
			summary.Dispatched = true
			telemetry.BatchDispatches.WithLabelValues(JobCertificates, "ok").Inc()
		}
	}

	log.Info().
		Int("fetched", summary.Fetched).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Bool("dispatched", summary.Dispatched).
		Msg("certificate run finished")

	if fatal != nil {
		return summary, fatal
	}
	return summary, nil
}

func issueProperties(asOf time.Time) map[string]any {
	return map[string]any{
		models.PropIssueYear:  asOf.Year(),
		models.PropIssueMonth: int(asOf.Month()),
		models.PropIssueDate:  models.EpochMillis(models.MidnightUTC(asOf)),
	}
}
