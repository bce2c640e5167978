package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the gateway's error taxonomy (§7). Each kind maps to a
// client-visible status code (see status).
type ErrorKind string

const (
	ErrorNoRoute           ErrorKind = "NoRoute"
	ErrorMethodNotAllowed  ErrorKind = "MethodNotAllowed"
	ErrorUpstreamConnect   ErrorKind = "UpstreamConnect"
	ErrorUpstreamTimeout   ErrorKind = "UpstreamTimeout"
	ErrorUpstreamMalformed ErrorKind = "UpstreamMalformed"
	ErrorClientDisconnect  ErrorKind = "ClientDisconnect"
	ErrorInternal          ErrorKind = "Internal"
)

// status maps an ErrorKind to its client-visible HTTP status.
func (k ErrorKind) status() int {
	switch k {
	case ErrorNoRoute:
		return http.StatusNotFound
	case ErrorMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrorUpstreamConnect, ErrorUpstreamMalformed:
		return http.StatusBadGateway
	case ErrorUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrorInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// problemBody is the JSON shape of every client-visible error response
// (§7): `{ "error": <kind>, "request_id": <id> }`.
type problemBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// writeProblem writes the mapped status code and JSON problem body,
// and sets X-Request-ID on the response.
func writeProblem(w http.ResponseWriter, kind ErrorKind, requestID string, allow string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	if allow != "" {
		w.Header().Set("Allow", allow)
	}
	w.WriteHeader(kind.status())
	_ = json.NewEncoder(w).Encode(problemBody{Error: string(kind), RequestID: requestID})
}

// classifyDispatchError maps an error from the upstream round trip to
// an ErrorKind, per §7's trigger column. ClientDisconnect is detected
// via request context cancellation, which dispatch checks separately
// before calling this classifier.
func classifyDispatchError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorUpstreamTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorUpstreamTimeout
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return ErrorUpstreamConnect
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorUpstreamConnect
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorUpstreamConnect
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "tls:"),
		strings.Contains(msg, "remote error"):
		return ErrorUpstreamConnect
	case strings.Contains(msg, "malformed"),
		strings.Contains(msg, "unexpected EOF"),
		strings.Contains(msg, "response missing"):
		return ErrorUpstreamMalformed
	}

	return ErrorUpstreamConnect
}
