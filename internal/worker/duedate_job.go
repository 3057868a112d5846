package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"course-credentials/internal/config"
	"course-credentials/internal/duedate"
	"course-credentials/internal/models"
	"course-credentials/internal/telemetry"
)

// SessionCRM lists session records and accepts due-date updates.
type SessionCRM interface {
	List(ctx context.Context, objectType string, properties []string) ([]models.EligibleRecord, error)
	BatchUpdate(ctx context.Context, objectType string, payload models.BatchUpdate) error
}

// DueDateJob writes assignment due dates for upcoming sessions.
type DueDateJob struct {
	cfg config.Config
	crm SessionCRM
	log zerolog.Logger
}

func NewDueDateJob(cfg config.Config, source SessionCRM, log zerolog.Logger) *DueDateJob {
	return &DueDateJob{cfg: cfg, crm: source, log: log}
}

// Run assigns due dates as of asOf and dispatches them in one batch update.
func (j *DueDateJob) Run(ctx context.Context, asOf time.Time) (models.DueDateSummary, error) {
	started := time.Now()
	summary := models.DueDateSummary{RunID: uuid.NewString(), AsOf: asOf.Format(dateIssuedLayout)}
	log := j.log.With().Str("run_id", summary.RunID).Str("job", JobDueDates).Logger()
	defer func() {
		telemetry.RunDuration.WithLabelValues(JobDueDates).Observe(time.Since(started).Seconds())
	}()

	records, err := j.crm.List(ctx, j.cfg.CRMObjectType, []string{models.PropSessionDatetime, models.PropAssignmentDueDate})
	if err != nil {
		return summary, fmt.Errorf("list session records: %w", err)
	}
	summary.Scanned = len(records)

	var payload models.BatchUpdate
	for _, rec := range records {
		due, ok, err := duedate.Assign(rec, asOf)
		if err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("skipping record with unreadable session")
		}
		if !ok {
			summary.Skipped++
			continue
		}
		payload.Add(rec.ID, map[string]any{models.PropAssignmentDueDate: due})
	}
	summary.Assigned = payload.Len()

	if payload.Len() > 0 {
		if err := j.crm.BatchUpdate(ctx, j.cfg.CRMUpdateObjectType, payload); err != nil {
			telemetry.BatchDispatches.WithLabelValues(JobDueDates, "error").Inc()
			return summary, fmt.Errorf("dispatch due dates: %w", err)
		}
		summary.Dispatched = true
		telemetry.BatchDispatches.WithLabelValues(JobDueDates, "ok").Inc()
		telemetry.DueDatesAssigned.Add(float64(payload.Len()))
	}

	log.Info().
		Int("scanned", summary.Scanned).
		Int("assigned", summary.Assigned).
		Int("skipped", summary.Skipped).
		Msg("due date run finished")
	return summary, nil
}
