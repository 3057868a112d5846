package documents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"course-credentials/internal/config"
	"course-credentials/internal/models"
	"course-credentials/internal/ratelimit"
)

const providerPandaDoc = "pandadoc"

// PandaDoc status strings mapped onto lifecycle states.
const (
	pandaUploaded  = "document.uploaded"
	pandaDraft     = "document.draft"
	pandaSent      = "document.sent"
	pandaCompleted = "document.completed"
	pandaError     = "document.error"
)

var pandaLabels = map[string]string{
	FieldRecipientName: "Student FName Student LName",
	FieldCourseName:    "Course Name",
	FieldDateIssued:    "Date Issued",
	FieldCLECredits:    "CLE Credits",
	FieldCLEStateBar:   "CLE State Bar Number",
}

// PandaDoc walks a document through create, processing, completion and
// share-session issuance, then downloads the finished PDF.
type PandaDoc struct {
	baseURL   string
	shareBase string
	folderID  string
	poll      poller
	transport transport
}

// NewPandaDoc builds a PandaDoc client.
func NewPandaDoc(cfg config.Config, client *http.Client, limiter ratelimit.Limiter) *PandaDoc {
	apiKey := cfg.PandaAPIKey
	return &PandaDoc{
		baseURL:   cfg.PandaBaseURL,
		shareBase: cfg.PandaShareBaseURL,
		folderID:  cfg.PandaFolderID,
		poll: poller{
			attempts: cfg.PollAttempts,
			initial:  cfg.PollInitial,
			max:      cfg.PollMax,
		},
		transport: transport{
			provider: providerPandaDoc,
			client:   client,
			limiter:  limiter,
			auth: func(req *http.Request) error {
				if apiKey == "" {
					return errors.New("api key is required")
				}
				req.Header.Set("Authorization", "API-Key "+apiKey)
				return nil
			},
		},
	}
}

type pandaToken struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type pandaRecipient struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

type pandaCreate struct {
	Name         string           `json:"name"`
	TemplateUUID string           `json:"template_uuid"`
	FolderUUID   string           `json:"folder_uuid,omitempty"`
	Recipients   []pandaRecipient `json:"recipients"`
	Tokens       []pandaToken     `json:"tokens"`
}

type pandaDocument struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type pandaSession struct {
	ID string `json:"id"`
}

// Generate runs the full workflow for one request.
func (p *PandaDoc) Generate(ctx context.Context, req Request) (models.Artifact, error) {
	track := newTracker()

	doc, err := p.create(ctx, req)
	if err != nil {
		return models.Artifact{}, err
	}

	if err := p.awaitDraft(ctx, doc, track); err != nil {
		return models.Artifact{}, err
	}

	if track.state != StateCompleted {
		if _, err := p.transport.call(ctx, "complete", http.MethodPatch, p.docURL(doc.ID, "status/"), map[string]int{"status": 2}, http.StatusNoContent, http.StatusOK); err != nil {
			return models.Artifact{}, err
		}
		if err := track.advance(StateCompleted); err != nil {
			return models.Artifact{}, err
		}
	}

	session, err := p.session(ctx, doc.ID, req.Recipient)
	if err != nil {
		return models.Artifact{}, err
	}

	content, err := p.transport.call(ctx, "download", http.MethodGet, p.docURL(doc.ID, "download"), nil, http.StatusOK)
	if err != nil {
		return models.Artifact{}, err
	}
	if len(content) == 0 {
		return models.Artifact{}, &ExternalWorkflowError{Provider: providerPandaDoc, Step: "download", Err: errors.New("empty document")}
	}

	return models.Artifact{
		Template:    req.Template.Key,
		Name:        req.Name,
		Content:     content,
		ContentType: "application/pdf",
		ShareURL:    p.shareBase + "/" + url.PathEscape(session.ID),
	}, nil
}

func (p *PandaDoc) create(ctx context.Context, req Request) (pandaDocument, error) {
	fields := labelled(req.Fields, pandaLabels)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	tokens := make([]pandaToken, 0, len(names))
	for _, name := range names {
		tokens = append(tokens, pandaToken{Name: name, Value: fields[name]})
	}

	body := pandaCreate{
		Name:         req.Name,
		TemplateUUID: req.Template.ID,
		FolderUUID:   p.folderID,
		Recipients:   []pandaRecipient{{Email: req.Recipient}},
		Tokens:       tokens,
	}
	data, err := p.transport.call(ctx, "create", http.MethodPost, p.baseURL+"/documents", body, http.StatusCreated)
	if err != nil {
		return pandaDocument{}, err
	}
	var doc pandaDocument
	if err := p.transport.decode("create", data, &doc); err != nil {
		return pandaDocument{}, err
	}
	if doc.ID == "" {
		return pandaDocument{}, &ExternalWorkflowError{Provider: providerPandaDoc, Step: "create", Err: errors.New("response has no document id")}
	}
	return doc, nil
}

// awaitDraft polls until the document leaves the uploaded state.
func (p *PandaDoc) awaitDraft(ctx context.Context, doc pandaDocument, track *tracker) error {
	status := doc.Status
	first := true
	err := p.poll.wait(ctx, func(ctx context.Context) (bool, error) {
		if !first {
			data, err := p.transport.call(ctx, "status", http.MethodGet, p.docURL(doc.ID, ""), nil, http.StatusOK)
			if err != nil {
				return false, err
			}
			var cur pandaDocument
			if err := p.transport.decode("status", data, &cur); err != nil {
				return false, err
			}
			status = cur.Status
		}
		first = false

		switch status {
		case pandaUploaded, "":
			return false, track.advance(StateProcessing)
		case pandaDraft:
			return true, track.advance(StateReadyForCompletion)
		case pandaSent, pandaCompleted:
			return true, track.advance(StateCompleted)
		case pandaError:
			return false, &ExternalWorkflowError{Provider: providerPandaDoc, Step: "status", Body: status}
		default:
			return false, &ExternalWorkflowError{Provider: providerPandaDoc, Step: "status", Err: fmt.Errorf("unexpected status %q", status)}
		}
	})
	if errors.Is(err, ErrWorkflowTimeout) {
		return fmt.Errorf("document %s still %s: %w", doc.ID, status, err)
	}
	return err
}

func (p *PandaDoc) session(ctx context.Context, id, recipient string) (pandaSession, error) {
	body := map[string]any{"recipient": recipient, "silent": true}
	data, err := p.transport.call(ctx, "session", http.MethodPost, p.docURL(id, "session"), body, http.StatusCreated)
	if err != nil {
		return pandaSession{}, err
	}
	var s pandaSession
	if err := p.transport.decode("session", data, &s); err != nil {
		return pandaSession{}, err
	}
	if s.ID == "" {
		return pandaSession{}, &ExternalWorkflowError{Provider: providerPandaDoc, Step: "session", Err: errors.New("response has no session id")}
	}
	return s, nil
}

func (p *PandaDoc) docURL(id, suffix string) string {
	u := p.baseURL + "/documents/" + url.PathEscape(id)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}
