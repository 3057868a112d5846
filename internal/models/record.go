package models

import (
	"time"
)

// CRM property names read from and written to certificate records.
const (
	PropObjectID            = "hs_object_id"
	PropFirstName           = "firstname"
	PropLastName            = "lastname"
	PropCourseName          = "course_name"
	PropEmail               = "email"
	PropSessionDatetime     = "live_session_datetime"
	PropLinkedInCompanyID   = "linkedin_company_id"
	PropCLECredits          = "cle"
	PropCLEStateBarNumber   = "cle_state_bar_number__and_state__if_not_specified_above_"
	PropCertificateCheckbox = "certificate_checkbox"
	PropSurveyCompleted     = "survey_completed"
	PropAssignmentDueDate   = "assignment_due_date"

	PropUniqueCertificateID    = "unique_certificate_id"
	PropLinkedInCertificateURL = "linkedin_certificate_url"
	PropLinkedInBadge          = "linkedin_badge"
	PropCLECertificateURL      = "cle_certificate_url"
	PropCertificateFileURL     = "certificate_file_url"
	PropIssueYear              = "certificate_issue_year"
	PropIssueMonth             = "certificate_issue_month"
	PropIssueDate              = "certificate_issue_date"
)

// EligibleProperties lists the properties requested for certificate candidates.
var EligibleProperties = []string{
	PropObjectID,
	PropFirstName,
	PropLastName,
	PropCourseName,
	PropEmail,
	PropSessionDatetime,
	PropLinkedInCompanyID,
	PropCLECredits,
	PropCLEStateBarNumber,
}

// EligibleRecord is a read-only snapshot of one CRM record awaiting a certificate.
type EligibleRecord struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Prop returns a property value, or "" when absent.
func (r EligibleRecord) Prop(name string) string {
	if r.Properties == nil {
		return ""
	}
	return r.Properties[name]
}

// Reference is the external reference stored against the certificate identifier.
// The CRM object id property wins; the record id is the fallback.
func (r EligibleRecord) Reference() string {
	if v := r.Prop(PropObjectID); v != "" {
		return v
	}
	return r.ID
}

// FullName joins first and last name.
func (r EligibleRecord) FullName() string {
	return r.Prop(PropFirstName) + " " + r.Prop(PropLastName)
}

// CertificateIdentifier is one row of the permanent certificate id history.
type CertificateIdentifier struct {
	Seq       int64  `json:"seq"`
	Reference string `json:"reference"`
	Formatted string `json:"certificate_id"`
}

// Artifact is a generated document for one template applied to one record.
type Artifact struct {
	Template    string `json:"template"`
	Name        string `json:"name"`
	Content     []byte `json:"-"`
	ContentType string `json:"content_type"`
	ShareURL    string `json:"share_url,omitempty"`
	PublicURL   string `json:"public_url,omitempty"`
}

// BatchInput is one record's property update in a batch payload.
type BatchInput struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// BatchUpdate is the payload dispatched once per run.
type BatchUpdate struct {
	Inputs []BatchInput `json:"inputs"`
}

// Add appends one record's properties.
func (b *BatchUpdate) Add(id string, props map[string]any) {
	b.Inputs = append(b.Inputs, BatchInput{ID: id, Properties: props})
}

// Len reports how many records the payload updates.
func (b *BatchUpdate) Len() int {
	return len(b.Inputs)
}

// MidnightUTC truncates t to 00:00 UTC of its calendar date.
func MidnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EpochMillis converts t to milliseconds since the Unix epoch.
func EpochMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
