package apperror

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"session-bridge/internal/logger"
)

// Record is what a Recorder persists for each rendered error.
type Record struct {
	Kind       Kind
	Code       string
	Message    string
	DevMessage string
	Data       any
	IP         string
	Path       string
}

// Recorder persists rendered errors. Failures are logged and ignored.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Responder renders errors as JSON. In development the full error is
// returned; otherwise only code and message (and data for validation errors).
type Responder struct {
	Development bool
	Recorder    Recorder
}

type prodBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type devBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	DevMessage string `json:"devMessage"`
	Type       Kind   `json:"type"`
	Data       any    `json:"data,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// Body returns the JSON-serializable error payload.
func (p *Responder) Body(e *Error) map[string]any {
	if p != nil && p.Development {
		body := devBody{
			Code:       e.Code,
			Message:    e.Message,
			DevMessage: e.DevMessage,
			Type:       e.Kind,
			Data:       e.Data,
		}
		if e.cause != nil {
			body.Cause = e.cause.Error()
		}
		return map[string]any{"status": "error", "error": body}
	}

	body := prodBody{Code: e.Code, Message: e.Message}
	if e.Kind == KindValidation {
		body.Data = e.Data
	}
	return map[string]any{"status": "error", "error": body}
}

// Write records err and writes it to w.
func (p *Responder) Write(w http.ResponseWriter, r *http.Request, err error) {
	e := From(err)
	p.record(r, e)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(p.Body(e))
}

func (p *Responder) record(r *http.Request, e *Error) {
	fields := map[string]any{
		"code":   e.Code,
		"type":   string(e.Kind),
		"path":   r.URL.Path,
		"method": r.Method,
	}
	if e.cause != nil {
		fields["error"] = e.cause.Error()
	}
	if e.Kind == KindInternal || e.Kind == KindUpstream {
		logger.Error("request failed", fields)
	} else {
		logger.Debug("request rejected", fields)
	}

	if p == nil || p.Recorder == nil {
		return
	}

	rec := Record{
		Kind:       e.Kind,
		Code:       e.Code,
		Message:    e.Message,
		DevMessage: e.DevMessage,
		Data:       e.Data,
		IP:         ClientIP(r),
		Path:       r.URL.Path,
	}
	if err := p.Recorder.Record(r.Context(), rec); err != nil {
		logger.Warn("failed to record error", map[string]any{
			"code":  e.Code,
			"error": err.Error(),
		})
	}
}

type clientIPKey struct{}

// WithClientIP stores the client address resolved by the router, which
// honours only the proxies and platform headers it is configured to trust.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP and falls back to the
// connection's remote address. Forwarding headers are never read here.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
