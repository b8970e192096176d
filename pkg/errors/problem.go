package errors

import (
	"encoding/json"
	"strings"
)

const problemBase = "https://api.otcdesk.io/problems/"

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   []FieldError           `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, len(p.Extra)+6)
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

// Problem converts any error into a problem document. Errors that are not
// *Error are reported as internal errors without leaking their text.
func Problem(err error, instance string) *ProblemDetails {
	var e *Error
	if !As(err, &e) || e.Kind == "" || e.Kind == "Unknown" {
		return &ProblemDetails{
			Type:     problemBase + "internal-error",
			Title:    "Internal Server Error",
			Status:   HTTPStatus(err),
			Detail:   "internal error",
			Instance: instance,
		}
	}
	p := &ProblemDetails{
		Type:     problemBase + slug(e.Kind),
		Title:    title(e.Kind),
		Status:   HTTPStatus(err),
		Detail:   e.Message,
		Instance: instance,
		Errors:   e.Fields,
	}
	if p.Detail == "" {
		p.Detail = p.Title
	}
	p.WithExtra("kind", e.Kind)
	if e.Reason != "" {
		p.WithExtra("reason", e.Reason)
	}
	for k, v := range e.Details {
		p.WithExtra(k, v)
	}
	return p
}

// slug turns "AddressNotWhitelisted" into "address-not-whitelisted".
func slug(kind string) string {
	var b strings.Builder
	for i, r := range kind {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// title turns "AddressNotWhitelisted" into "Address Not Whitelisted".
func title(kind string) string {
	var b strings.Builder
	for i, r := range kind {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
