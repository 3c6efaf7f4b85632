// Package problem implements the gateway's error surface from spec §7:
// RFC 7807 application/problem+json bodies for HTTP responses, and a
// matching WebSocket close-code taxonomy.
//
// Grounded on the teacher's internal/errors/errors.go GatewayError — a
// struct of canonical sentinel errors with a WithDetails/WriteJSON
// builder chain — generalized from the teacher's flat {code, message,
// details, request_id} JSON shape to RFC 7807's {type, title, status,
// detail, instance} fields.
package problem

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind tags a Problem with the error taxonomy named in §7, used to pick
// both the HTTP status and (on the WS pipeline) the close code.
type Kind string

const (
	KindRouteNotFound       Kind = "route_not_found"
	KindServiceNotFound     Kind = "service_not_found"
	KindMethodNotAllowed    Kind = "method_not_allowed"
	KindNotWebSocket        Kind = "not_websocket"
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindAccessDenied        Kind = "access_denied"
	KindInvalidRequest      Kind = "invalid_request"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindHeaderTooLarge      Kind = "header_too_large"
	KindRateLimited         Kind = "rate_limited"
	KindBadGateway          Kind = "bad_gateway"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindRouteNotFound:       http.StatusNotFound,
	KindServiceNotFound:     http.StatusNotFound,
	KindMethodNotAllowed:    http.StatusMethodNotAllowed,
	KindNotWebSocket:        http.StatusBadRequest,
	KindUnauthenticated:     http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindAccessDenied:        http.StatusForbidden,
	KindInvalidRequest:      http.StatusBadRequest,
	KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	KindHeaderTooLarge:      http.StatusRequestHeaderFieldsTooLarge,
	KindRateLimited:         http.StatusTooManyRequests,
	KindBadGateway:          http.StatusBadGateway,
	KindUpstreamTimeout:     http.StatusGatewayTimeout,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindInternal:            http.StatusInternalServerError,
}

var titleByKind = map[Kind]string{
	KindRouteNotFound:       "No matching route",
	KindServiceNotFound:     "Unknown service",
	KindMethodNotAllowed:    "Method not allowed",
	KindNotWebSocket:        "Endpoint does not support WebSocket upgrade",
	KindUnauthenticated:     "Authentication required",
	KindForbidden:           "Insufficient permissions",
	KindAccessDenied:        "Access denied by policy",
	KindInvalidRequest:      "Invalid request",
	KindPayloadTooLarge:     "Request body too large",
	KindHeaderTooLarge:      "Request headers too large",
	KindRateLimited:         "Rate limit exceeded",
	KindBadGateway:          "Bad gateway response",
	KindUpstreamTimeout:     "Upstream request timed out",
	KindUpstreamUnavailable: "Upstream service unavailable",
	KindInternal:            "Internal server error",
}

const typeBaseURI = "https://aussiegw.dev/problems/"

// Problem is an RFC 7807 problem detail document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	kind Kind
}

// New builds a Problem for kind with an optional detail message.
func New(kind Kind, detail string) *Problem {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Problem{
		Type:   typeBaseURI + string(kind),
		Title:  titleByKind[kind],
		Status: status,
		Detail: detail,
		kind:   kind,
	}
}

// Error implements error so a Problem can be returned/wrapped like any
// other Go error inside the pipeline.
func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// Kind returns the taxonomy tag this Problem was built from.
func (p *Problem) Kind() Kind { return p.kind }

// WithInstance returns a copy of p with its instance field set. The HTTP
// and WS pipelines do not call it, so their problem bodies carry no
// instance.
func (p *Problem) WithInstance(instance string) *Problem {
	clone := *p
	clone.Instance = instance
	return &clone
}

// WriteJSON writes p as an application/problem+json response.
func (p *Problem) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
