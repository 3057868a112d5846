// Package credential builds LinkedIn "add to profile" links for issued certificates.
package credential

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	baseURL    = "https://www.linkedin.com/profile/add?"
	startTask  = "CERTIFICATION_NAME"
	namePrefix = "Certificate of Completion: "

	// DefaultOrgID is the issuing organization when a record carries none.
	DefaultOrgID = "12958828"
)

// Params are the inputs of a credential link.
type Params struct {
	CourseName     string
	IssuedAt       time.Time
	OrgID          string
	CertificateURL string
	CertificateID  string
}

// Build composes the link. Keys are always emitted in the same order, so equal
// inputs give byte-identical output.
func Build(p Params) string {
	org := p.OrgID
	if strings.TrimSpace(org) == "" {
		org = DefaultOrgID
	}
	pairs := [][2]string{
		{"startTask", startTask},
		{"name", namePrefix + p.CourseName},
		{"organizationId", org},
		{"issueYear", strconv.Itoa(p.IssuedAt.Year())},
		{"issueMonth", strconv.Itoa(int(p.IssuedAt.Month()))},
		{"certUrl", p.CertificateURL},
		{"certId", p.CertificateID},
	}

	var b strings.Builder
	b.WriteString(baseURL)
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[1]))
	}
	return b.String()
}
