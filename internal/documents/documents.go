// Package documents drives external document-generation workflows from
// template to a finished PDF.
package documents

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"course-credentials/internal/config"
	"course-credentials/internal/models"
	"course-credentials/internal/ratelimit"
)

const limiterKey = "documents"

// ErrWorkflowTimeout means the provider never settled within the polling budget.
var ErrWorkflowTimeout = errors.New("document workflow did not settle in time")

// Canonical field keys; each provider maps them to its own template labels.
const (
	FieldRecipientName = "recipient_name"
	FieldCourseName    = "course_name"
	FieldDateIssued    = "date_issued"
	FieldCLECredits    = "cle_credits"
	FieldCLEStateBar   = "cle_state_bar_number"
)

// Template identifies a provider template.
type Template struct {
	Key string
	ID  string
}

// Fields binds canonical keys to values.
type Fields map[string]string

// Request is one document to generate.
type Request struct {
	Template  Template
	Fields    Fields
	Name      string
	Recipient string
}

// Generator produces a finished artifact for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (models.Artifact, error)
}

// ExternalWorkflowError is a failed workflow step.
type ExternalWorkflowError struct {
	Provider string
	Step     string
	Status   int
	Body     string
	Err      error
}

func (e *ExternalWorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Step, e.Status, e.Body)
}

func (e *ExternalWorkflowError) Unwrap() error { return e.Err }

// New returns the generator selected by DOC_PROVIDER.
func New(cfg config.Config, limiter ratelimit.Limiter) (Generator, error) {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	client := &http.Client{Timeout: cfg.DocTimeout}
	switch cfg.DocProvider {
	case config.ProviderPandaDoc:
		return NewPandaDoc(cfg, client, limiter), nil
	case config.ProviderPDFGen, "":
		return NewPDFGen(cfg, client, limiter), nil
	default:
		return nil, fmt.Errorf("unknown document provider %q", cfg.DocProvider)
	}
}

func labelled(fields Fields, labels map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if label, ok := labels[k]; ok {
			out[label] = v
			continue
		}
		out[k] = v
	}
	return out
}
