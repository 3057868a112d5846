package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"course-credentials/internal/config"
	"course-credentials/internal/credential"
	"course-credentials/internal/documents"
	"course-credentials/internal/models"
	"course-credentials/internal/observability"
	"course-credentials/internal/storage"
	"course-credentials/internal/store"
	"course-credentials/internal/telemetry"
)

// ErrMissingField is returned for records lacking an attribute a certificate needs.
var ErrMissingField = errors.New("required field missing")

// Template keys.
const (
	TemplateCompletion = "completion"
	TemplateCLE        = "cle"
)

const dateIssuedLayout = "2006-01-02"

// Outcome is the result of one record's trip through the pipeline. On failure
// Stage is failed, FailedAt names the last stage reached and Err is set.
type Outcome struct {
	Reference  string
	Stage      string
	FailedAt   string
	Identifier models.CertificateIdentifier
	Resumed    bool
	Artifacts  []models.Artifact
	Properties map[string]any
	Err        error
}

// Pipeline turns one eligible record into its certificate outputs.
type Pipeline struct {
	cfg     config.Config
	ids     store.IdentifierStore
	docs    documents.Generator
	persist storage.Persister
	log     zerolog.Logger
	tracer  trace.Tracer
}

// NewPipeline wires a pipeline for one run.
func NewPipeline(cfg config.Config, ids store.IdentifierStore, docs documents.Generator, persist storage.Persister, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		ids:     ids,
		docs:    docs,
		persist: persist,
		log:     log,
		tracer:  otel.Tracer(observability.TracerName),
	}
}

// Process runs rec through every stage. Failures come back in the Outcome.
func (p *Pipeline) Process(ctx context.Context, rec models.EligibleRecord, asOf time.Time) (out Outcome) {
	out = Outcome{Reference: rec.Reference(), Stage: models.StageStart}
	ctx, span := p.tracer.Start(ctx, "certificate.record", trace.WithAttributes(
		attribute.String("reference", out.Reference),
	))
	defer func() {
		span.SetAttributes(attribute.String("stage", out.Stage))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()

	log := p.log.With().Str("reference", out.Reference).Logger()
	fail := func(err error) Outcome {
		out.FailedAt, out.Stage, out.Err = out.Stage, models.StageFailed, err
		log.Debug().Err(err).Str("stage", out.FailedAt).Msg("record failed")
		return out
	}

	reqs, err := p.requests(rec, asOf)
	if err != nil {
		return fail(err)
	}

	id, resumed, err := p.allocate(ctx, out.Reference)
	if err != nil {
		return fail(err)
	}
	out.Identifier, out.Resumed = id, resumed
	out.Stage = models.StageIDAllocated
	log.Debug().Str("certificate_id", id.Formatted).Bool("resumed", resumed).Msg("identifier allocated")

	for _, req := range reqs {
		art, err := p.docs.Generate(ctx, req)
		if err != nil {
			return fail(fmt.Errorf("generate %s: %w", req.Template.Key, err))
		}
		out.Artifacts = append(out.Artifacts, art)
	}
	out.Stage = models.StageArtifactsGenerated

	for i := range out.Artifacts {
		url, err := p.persist.Persist(ctx, out.Artifacts[i].Content, out.Artifacts[i].Name)
		if err != nil {
			return fail(fmt.Errorf("persist %s: %w", out.Artifacts[i].Template, err))
		}
		out.Artifacts[i].PublicURL = url
	}
	out.Stage = models.StageArtifactsPersisted

	primary := out.Artifacts[0]
	org := strings.TrimSpace(rec.Prop(models.PropLinkedInCompanyID))
	if org == "" {
		org = p.cfg.LinkedInOrgID
	}
	link := credential.Build(credential.Params{
		CourseName:     rec.Prop(models.PropCourseName),
		IssuedAt:       asOf,
		OrgID:          org,
		CertificateURL: primary.PublicURL,
		CertificateID:  id.Formatted,
	})
	out.Stage = models.StageCredentialBuilt

	props := map[string]any{
		models.PropUniqueCertificateID:    id.Formatted,
		models.PropLinkedInCertificateURL: primary.PublicURL,
		models.PropLinkedInBadge:          link,
	}
	if primary.ShareURL != "" {
		props[models.PropCertificateFileURL] = primary.ShareURL
	}
	for _, art := range out.Artifacts[1:] {
		if art.Template == TemplateCLE {
			props[models.PropCLECertificateURL] = art.PublicURL
		}
	}
	out.Properties = props
	out.Stage = models.StageDone
	return out
}

// requests validates rec and builds the document requests for it.
func (p *Pipeline) requests(rec models.EligibleRecord, asOf time.Time) ([]documents.Request, error) {
	required := []string{models.PropFirstName, models.PropLastName, models.PropCourseName}
	if p.cfg.DocProvider == config.ProviderPandaDoc {
		required = append(required, models.PropEmail)
	}
	for _, name := range required {
		if strings.TrimSpace(rec.Prop(name)) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	course := rec.Prop(models.PropCourseName)
	name := fmt.Sprintf("%s - %s Certificate", course, rec.FullName())
	fields := documents.Fields{
		documents.FieldRecipientName: rec.FullName(),
		documents.FieldCourseName:    course,
		documents.FieldDateIssued:    asOf.Format(dateIssuedLayout),
	}
	reqs := []documents.Request{{
		Template:  documents.Template{Key: TemplateCompletion, ID: p.cfg.PrimaryTemplateID},
		Fields:    fields,
		Name:      name,
		Recipient: rec.Prop(models.PropEmail),
	}}

	credits := strings.TrimSpace(rec.Prop(models.PropCLECredits))
	if p.cfg.CLETemplateID == "" || credits == "" {
		return reqs, nil
	}
	bar := strings.TrimSpace(rec.Prop(models.PropCLEStateBarNumber))
	if bar == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, models.PropCLEStateBarNumber)
	}
	cle := documents.Fields{
		documents.FieldCLECredits:  credits,
		documents.FieldCLEStateBar: bar,
	}
	for k, v := range fields {
		cle[k] = v
	}
	reqs = append(reqs, documents.Request{
		Template:  documents.Template{Key: TemplateCLE, ID: p.cfg.CLETemplateID},
		Fields:    cle,
		Name:      name + " - " + p.cfg.CLECertificateName,
		Recipient: rec.Prop(models.PropEmail),
	})
	return reqs, nil
}

// allocate issues a new identifier, or reuses an earlier one for a retried
// record when resuming is enabled.
func (p *Pipeline) allocate(ctx context.Context, reference string) (models.CertificateIdentifier, bool, error) {
	id, err := p.ids.Allocate(ctx, reference)
	if err == nil {
		telemetry.IdentifiersIssued.Inc()
		return id, false, nil
	}
	if !errors.Is(err, store.ErrDuplicateReference) || !p.cfg.ResumeAllocated {
		return models.CertificateIdentifier{}, false, err
	}
	id, err = p.ids.Lookup(ctx, reference)
	if err != nil {
		return models.CertificateIdentifier{}, false, err
	}
	telemetry.IdentifiersResumed.Inc()
	return id, true, nil
}

// failureReason buckets an error for the failures metric.
func failureReason(err error) string {
	var (
		wfErr    *documents.ExternalWorkflowError
		writeErr *storage.StoreWriteError
	)
	switch {
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, store.ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, store.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, documents.ErrWorkflowTimeout):
		return "workflow_timeout"
	case errors.As(err, &wfErr):
		return "external_workflow"
	case errors.As(err, &writeErr):
		return "store_write"
	default:
		return "other"
	}
}
