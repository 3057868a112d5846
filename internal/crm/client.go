// Package crm talks to the CRM v3 objects API: searching certificate
// candidates, listing session records and applying batch property updates.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"course-credentials/internal/config"
	"course-credentials/internal/models"
	"course-credentials/internal/ratelimit"
)

const limiterKey = "crm"

// Filter operators used by the search payloads.
const (
	OpEQ             = "EQ"
	OpHasProperty    = "HAS_PROPERTY"
	OpNotHasProperty = "NOT_HAS_PROPERTY"
)

// APIError is a non-success CRM response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Filter is one search predicate.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
}

// FilterGroup ANDs its filters.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// SearchRequest is the body of a search call.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

// EligibleSearch selects records with a session date, a completion flag and no
// credential link yet.
func EligibleSearch(limit int) SearchRequest {
	return SearchRequest{
		FilterGroups: []FilterGroup{{
			Filters: []Filter{
				{PropertyName: models.PropSessionDatetime, Operator: OpHasProperty},
				{PropertyName: models.PropLinkedInBadge, Operator: OpNotHasProperty},
				{PropertyName: models.PropCertificateCheckbox, Operator: OpEQ, Value: "true"},
				{PropertyName: models.PropSurveyCompleted, Operator: OpEQ, Value: "true"},
			},
		}},
		Properties: models.EligibleProperties,
		Limit:      limit,
	}
}

type rawRecord struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

type pageResponse struct {
	Results []rawRecord `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (p pageResponse) nextAfter() string {
	if p.Paging == nil || p.Paging.Next == nil {
		return ""
	}
	return p.Paging.Next.After
}

// Client is the CRM HTTP client.
type Client struct {
	baseURL   string
	token     string
	pageLimit int
	http      *http.Client
	limiter   ratelimit.Limiter
}

// New builds a client from config. A nil limiter means unthrottled.
func New(cfg config.Config, limiter ratelimit.Limiter) *Client {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	limit := cfg.CRMPageLimit
	if limit <= 0 {
		limit = 100
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.CRMBaseURL, "/"),
		token:     cfg.CRMToken,
		pageLimit: limit,
		http:      &http.Client{Timeout: cfg.CRMTimeout},
		limiter:   limiter,
	}
}

// PageLimit is the page size used for search and list calls.
func (c *Client) PageLimit() int { return c.pageLimit }

// Search runs req against objectType and follows paging until exhausted.
func (c *Client) Search(ctx context.Context, objectType string, req SearchRequest) ([]models.EligibleRecord, error) {
	if req.Limit <= 0 {
		req.Limit = c.pageLimit
	}
	endpoint := fmt.Sprintf("%s/crm/v3/objects/%s/search", c.baseURL, url.PathEscape(objectType))
	var out []models.EligibleRecord
	for {
		var page pageResponse
		if err := c.do(ctx, "search", http.MethodPost, endpoint, req, &page); err != nil {
			return nil, err
		}
		out = appendRecords(out, page.Results)
		next := page.nextAfter()
		if next == "" || next == req.After {
			return out, nil
		}
		req.After = next
	}
}

// List reads every record of objectType with the given properties.
func (c *Client) List(ctx context.Context, objectType string, properties []string) ([]models.EligibleRecord, error) {
	var out []models.EligibleRecord
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageLimit))
		if len(properties) > 0 {
			q.Set("properties", strings.Join(properties, ","))
		}
		if after != "" {
			q.Set("after", after)
		}
		endpoint := fmt.Sprintf("%s/crm/v3/objects/%s?%s", c.baseURL, url.PathEscape(objectType), q.Encode())

		var page pageResponse
		if err := c.do(ctx, "list", http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		out = appendRecords(out, page.Results)
		next := page.nextAfter()
		if next == "" || next == after {
			return out, nil
		}
		after = next
	}
}

// BatchUpdate applies every input in one call. Only a coarse 2xx check is made.
func (c *Client) BatchUpdate(ctx context.Context, objectType string, payload models.BatchUpdate) error {
	endpoint := fmt.Sprintf("%s/crm/v3/objects/%s/batch/update", c.baseURL, url.PathEscape(objectType))
	return c.do(ctx, "batch update", http.MethodPost, endpoint, payload, nil)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("crm %s: marshal: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("crm %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crm %s: decode: %w", op, err)
	}
	return nil
}

func appendRecords(out []models.EligibleRecord, raw []rawRecord) []models.EligibleRecord {
	for _, r := range raw {
		props := make(map[string]string, len(r.Properties))
		for k, v := range r.Properties {
			switch t := v.(type) {
			case nil:
			case string:
				props[k] = t
			case float64:
				props[k] = strconv.FormatFloat(t, 'f', -1, 64)
			case bool:
				props[k] = strconv.FormatBool(t)
			default:
				props[k] = fmt.Sprint(t)
			}
		}
		out = append(out, models.EligibleRecord{ID: r.ID, Properties: props})
	}
	return out
}
