package documents

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"course-credentials/internal/config"
	"course-credentials/internal/models"
	"course-credentials/internal/ratelimit"
)

const providerPDFGen = "pdfgen"

var pdfgenLabels = map[string]string{
	FieldRecipientName: "stu fname stu lname",
	FieldCourseName:    "course name",
	FieldDateIssued:    "date issued",
	FieldCLECredits:    "cle credits",
	FieldCLEStateBar:   "cle state bar number",
}

// PDFGen renders templates synchronously through the PDF Generator API.
type PDFGen struct {
	baseURL   string
	apiKey    string
	secret    string
	workspace string
	tokenTTL  time.Duration
	now       func() time.Time
	transport transport
}

// NewPDFGen builds a PDF Generator API client.
func NewPDFGen(cfg config.Config, client *http.Client, limiter ratelimit.Limiter) *PDFGen {
	g := &PDFGen{
		baseURL:   cfg.PDFGenBaseURL,
		apiKey:    cfg.PDFGenAPIKey,
		secret:    cfg.PDFGenSecret,
		workspace: cfg.PDFGenWorkspace,
		tokenTTL:  cfg.PDFGenTokenTTL,
		now:       time.Now,
	}
	if g.tokenTTL <= 0 {
		g.tokenTTL = 30 * time.Second
	}
	g.transport = transport{provider: providerPDFGen, client: client, limiter: limiter, auth: g.authorize}
	return g
}

func (g *PDFGen) authorize(req *http.Request) error {
	token, err := g.token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// token signs a short-lived HS256 JWT: the API key as issuer, the workspace as subject.
func (g *PDFGen) token() (string, error) {
	if g.apiKey == "" || g.secret == "" {
		return "", errors.New("api key and secret are required")
	}
	now := g.now()
	claims := jwt.RegisteredClaims{
		Issuer:    g.apiKey,
		Subject:   g.workspace,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.secret))
}

type pdfgenResponse struct {
	Response string `json:"response"`
}

// Generate merges the fields into the template and returns the decoded PDF.
func (g *PDFGen) Generate(ctx context.Context, req Request) (models.Artifact, error) {
	q := url.Values{}
	q.Set("name", req.Name)
	q.Set("format", "pdf")
	q.Set("output", "base64")
	endpoint := g.baseURL + "/templates/" + url.PathEscape(req.Template.ID) + "/output?" + q.Encode()

	data, err := g.transport.call(ctx, "generate", http.MethodPost, endpoint, labelled(req.Fields, pdfgenLabels), http.StatusOK, http.StatusCreated)
	if err != nil {
		return models.Artifact{}, err
	}
	var resp pdfgenResponse
	if err := g.transport.decode("generate", data, &resp); err != nil {
		return models.Artifact{}, err
	}
	content, err := base64.StdEncoding.DecodeString(resp.Response)
	if err != nil || len(content) == 0 {
		if err == nil {
			err = errors.New("empty document")
		}
		return models.Artifact{}, &ExternalWorkflowError{Provider: providerPDFGen, Step: "generate", Err: err}
	}
	return models.Artifact{
		Template:    req.Template.Key,
		Name:        req.Name,
		Content:     content,
		ContentType: "application/pdf",
	}, nil
}
