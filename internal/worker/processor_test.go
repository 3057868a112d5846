package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"course-credentials/internal/models"
)

func TestProcessorRunsJobsInOrder(t *testing.T) {
	p := NewProcessor(zerolog.Nop())
	var order []string
	p.RegisterHandler("b", func(ctx context.Context, asOf time.Time) (any, error) {
		order = append(order, "b")
		return nil, errors.New("b broke")
	})
	p.RegisterHandler("a", func(ctx context.Context, asOf time.Time) (any, error) {
		order = append(order, "a")
		return asOf.Year(), nil
	})
	p.RegisterHandler("", func(context.Context, time.Time) (any, error) { return nil, nil })

	results, err := p.RunAll(context.Background(), testAsOf)
	if err == nil || err.Error() != "b: b broke" {
		t.Fatalf("expected joined job error, got %v", err)
	}
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("jobs must run in registration order despite failures, got %v", order)
	}
	if results["a"] != 2024 {
		t.Fatalf("unexpected results %v", results)
	}
	if jobs := p.Jobs(); len(jobs) != 2 {
		t.Fatalf("empty job names must be ignored, got %v", jobs)
	}
}

func TestProcessorUnknownJob(t *testing.T) {
	p := NewProcessor(zerolog.Nop())
	if _, err := p.RunJob(context.Background(), "reports", testAsOf); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job, got %v", err)
	}
}

func TestDailyProcessor(t *testing.T) {
	cfg := testConfig(t)
	source := &fakeCRM{records: []models.EligibleRecord{record("1", "101", "Ana", "Li", "Intro")}}
	certs := NewCoordinator(cfg, source, opener(t, cfg), &fakeGenerator{}, &memPersister{}, zerolog.Nop())
	due := NewDueDateJob(cfg, &fakeCRM{}, zerolog.Nop())
	p := NewDailyProcessor(certs, due, zerolog.Nop())

	if jobs := p.Jobs(); len(jobs) != 2 || jobs[0] != JobCertificates || jobs[1] != JobDueDates {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	results, err := p.RunAll(context.Background(), testAsOf)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	summary, ok := results[JobCertificates].(models.RunSummary)
	if !ok || summary.Succeeded != 1 {
		t.Fatalf("unexpected certificate result %#v", results[JobCertificates])
	}
	if _, ok := results[JobDueDates].(models.DueDateSummary); !ok {
		t.Fatalf("unexpected due date result %#v", results[JobDueDates])
	}
}

func TestDueDateJob(t *testing.T) {
	asOf := time.Date(2024, 3, 19, 8, 0, 0, 0, time.UTC)
	session := func(id, at, due string) models.EligibleRecord {
		return models.EligibleRecord{ID: id, Properties: map[string]string{
			models.PropSessionDatetime:   at,
			models.PropAssignmentDueDate: due,
		}}
	}
	source := &fakeCRM{records: []models.EligibleRecord{
		session("1", "2024-03-20T15:00:00Z", ""),
		session("2", "2024-03-18T15:00:00Z", ""),
		session("3", "2024-03-23T10:00:00Z", "1711000000000"),
		session("4", "garbage", ""),
		session("5", "2024-03-23T10:00:00Z", ""),
	}}
	job := NewDueDateJob(testConfig(t), source, zerolog.Nop())

	summary, err := job.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Scanned != 5 || summary.Assigned != 2 || summary.Skipped != 3 || !summary.Dispatched {
		t.Fatalf("unexpected summary %+v", summary)
	}
	inputs := source.updates[0].Inputs
	wed := time.Date(2024, 3, 18, 15, 0, 0, 0, time.UTC).UnixMilli()
	sat := time.Date(2024, 3, 21, 10, 0, 0, 0, time.UTC).UnixMilli()
	if inputs[0].ID != "1" || inputs[0].Properties[models.PropAssignmentDueDate] != wed {
		t.Fatalf("unexpected first input %+v", inputs[0])
	}
	if inputs[1].ID != "5" || inputs[1].Properties[models.PropAssignmentDueDate] != sat {
		t.Fatalf("unexpected second input %+v", inputs[1])
	}
}

func TestDueDateJobNothingToAssign(t *testing.T) {
	source := &fakeCRM{}
	summary, err := NewDueDateJob(testConfig(t), source, zerolog.Nop()).Run(context.Background(), testAsOf)
	if err != nil || summary.Dispatched || len(source.updates) != 0 {
		t.Fatalf("expected no dispatch, got %+v err=%v", summary, err)
	}
}
