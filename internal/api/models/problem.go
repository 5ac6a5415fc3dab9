package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError describes a rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemTypeBase prefixes every problem type URI.
const ProblemTypeBase = "https://dispatchwatch.dev/problems/"

const (
	ProblemTypeValidation           = ProblemTypeBase + "validation-error"
	ProblemTypeNotFound             = ProblemTypeBase + "not-found"
	ProblemTypeUnknownServer        = ProblemTypeBase + "unknown-server"
	ProblemTypeUnsupportedMediaType = ProblemTypeBase + "unsupported-media-type"
	ProblemTypeTLSRequired          = ProblemTypeBase + "tls-required"
	ProblemTypeTooManyRequests      = ProblemTypeBase + "too-many-requests"
	ProblemTypeInternal             = ProblemTypeBase + "internal-error"
	ProblemTypeUnavailable          = ProblemTypeBase + "service-unavailable"
)

// problemKind pairs a problem type URI with its fixed title and status.
type problemKind struct {
	typ    string
	title  string
	status int
}

var (
	kindValidation    = problemKind{ProblemTypeValidation, "Validation error", http.StatusBadRequest}
	kindNotFound      = problemKind{ProblemTypeNotFound, "Not found", http.StatusNotFound}
	kindUnknownServer = problemKind{ProblemTypeUnknownServer, "Unknown server", http.StatusNotFound}
	kindMediaType     = problemKind{ProblemTypeUnsupportedMediaType, "Unsupported media type", http.StatusUnsupportedMediaType}
	kindTLSRequired   = problemKind{ProblemTypeTLSRequired, "TLS required", http.StatusForbidden}
	kindTooMany       = problemKind{ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests}
	kindInternal      = problemKind{ProblemTypeInternal, "Internal server error", http.StatusInternalServerError}
	kindUnavailable   = problemKind{ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable}
)

func (k problemKind) with(traceID, detail string) *Problem {
	return &Problem{
		Type:    k.typ,
		Title:   k.title,
		Status:  k.status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends the problem with its status code. The trace id is echoed in
// X-Request-Id when present.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest is a 400 carrying per-field validation errors.
func NewBadRequest(traceID, detail string, errs []FieldError) *Problem {
	p := kindValidation.with(traceID, detail)
	p.Errors = errs
	return p
}

func NewNotFound(traceID, detail string) *Problem {
	return kindNotFound.with(traceID, detail)
}

// NewUnknownServer is the 404 for a selection naming no active server.
func NewUnknownServer(traceID, serverCode string) *Problem {
	return kindUnknownServer.with(traceID, "no active server with code "+serverCode)
}

func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return kindMediaType.with(traceID, detail)
}

// NewTLSRequired is returned to plain HTTP callers when TLS is enforced.
func NewTLSRequired(traceID string) *Problem {
	return kindTLSRequired.with(traceID, "This endpoint requires HTTPS")
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return kindTooMany.with(traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return kindInternal.with(traceID, detail)
}

// NewServiceUnavailable is used while the controller is stopped or a request
// times out waiting on it.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return kindUnavailable.with(traceID, detail)
}
