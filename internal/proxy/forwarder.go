// Package proxy executes the gateway's outbound calls to upstream services.
package proxy

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"notify-gateway/internal/auth"
	"notify-gateway/internal/circuitbreaker"
	"notify-gateway/internal/common/errors"
	"notify-gateway/internal/common/logging"
	"notify-gateway/internal/routing"
)

// IdentityHeader carries the authenticated subject id to upstreams.
const IdentityHeader = "X-Subject-ID"

// Hop-by-hop headers are connection-scoped and never forwarded.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Config holds forwarder configuration.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxResponseBytes    int64
	Breaker             circuitbreaker.Config
}

// DefaultConfig returns forwarder defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		MaxResponseBytes:    10 << 20,
		Breaker:             circuitbreaker.DefaultConfig(),
	}
}

// RequestContext is the per-request scratch state handed from the gateway
// entry point to the forwarder. Created at request entry, discarded at
// response completion, never shared across requests.
type RequestContext struct {
	Claims        *auth.Claims
	CorrelationID string
}

// UpstreamResponse is the buffered result of one upstream call.
type UpstreamResponse struct {
	Status  int
	Header  http.Header
	Body    []byte
	Latency time.Duration
}

// Forwarder builds and executes outbound requests per a matched route.
type Forwarder struct {
	client   *http.Client
	breakers *circuitbreaker.Manager
	config   Config
	logger   logging.Logger
}

// New creates a forwarder with a pooled transport.
func New(config Config, logger logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultConfig().MaxResponseBytes
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
	}

	return &Forwarder{
		client:   &http.Client{Transport: transport},
		breakers: circuitbreaker.NewManager(config.Breaker, logger),
		config:   config,
		logger:   logger,
	}
}

// Forward executes the outbound call for a matched rule. The caller has
// already passed the rate limiter and, when required, the authentication
// gate. The upstream timeout is enforced per call; client disconnects abort
// the outbound request through the inbound request context.
func (f *Forwarder) Forward(r *http.Request, rule *routing.Rule, rctx *RequestContext) (*UpstreamResponse, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.ValidationError("request body too large").
				WithContext("limit_bytes", tooLarge.Limit)
		}
		return nil, errors.ValidationError("failed to read request body")
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.config.Timeout)
	defer cancel()

	out, err := http.NewRequestWithContext(ctx, r.Method, f.targetURL(r, rule), bytes.NewReader(body))
	if err != nil {
		return nil, errors.InternalError("failed to build upstream request", err)
	}

	f.mergeHeaders(out, r, rule, rctx)

	f.logger.Debug("dispatching to upstream",
		logging.String("upstream", rule.Name()),
		logging.String("method", r.Method),
		logging.String("path", r.URL.Path),
		logging.String("correlation_id", rctx.CorrelationID),
	)

	start := time.Now()
	result, err := f.breakers.Get(rule.Name()).Execute(func() (interface{}, error) {
		return f.client.Do(out)
	})
	latency := time.Since(start)

	if err != nil {
		return nil, f.mapFailure(err, rule, latency)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxResponseBytes))
	if err != nil {
		return nil, errors.UpstreamError("failed to read upstream response", err).
			WithContext("upstream", rule.Name())
	}

	f.logger.Info("upstream responded",
		logging.String("upstream", rule.Name()),
		logging.Int("status", resp.StatusCode),
		logging.Duration("latency", latency),
		logging.String("correlation_id", rctx.CorrelationID),
	)

	return &UpstreamResponse{
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    respBody,
		Latency: latency,
	}, nil
}

// targetURL joins the rule's upstream base with the inbound path, keeping
// the query string verbatim.
func (f *Forwarder) targetURL(r *http.Request, rule *routing.Rule) string {
	target := *rule.Upstream()
	target.Path = strings.TrimSuffix(target.Path, "/") + r.URL.Path
	target.RawQuery = r.URL.RawQuery
	return target.String()
}

// mergeHeaders copies inbound headers, injects identity when the rule
// propagates it, and applies the rule's header strategy. Strategy headers
// only fill gaps: an inbound value always wins.
func (f *Forwarder) mergeHeaders(out, in *http.Request, rule *routing.Rule, rctx *RequestContext) {
	for name, values := range in.Header {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(name)]; skip {
			continue
		}
		for _, value := range values {
			out.Header.Add(name, value)
		}
	}

	if rule.PropagateIdentity() && rctx.Claims != nil {
		out.Header.Set(IdentityHeader, rctx.Claims.Subject)
	}

	if strategy := rule.Headers(); strategy != nil {
		for name, value := range strategy.Compute(in) {
			if in.Header.Get(name) != "" {
				continue
			}
			out.Header.Set(name, value)
		}
	}
}

func (f *Forwarder) mapFailure(err error, rule *routing.Rule, latency time.Duration) error {
	switch {
	case stderrors.Is(err, context.Canceled):
		// Client went away; nothing should be written to the connection.
		return errors.UpstreamError("client disconnected", err).
			WithContext("upstream", rule.Name())
	case stderrors.Is(err, context.DeadlineExceeded):
		f.logger.Warn("upstream call timed out",
			logging.String("upstream", rule.Name()),
			logging.Duration("latency", latency),
		)
		return errors.TimeoutError("upstream call")
	case circuitbreaker.IsOpen(err):
		f.logger.Warn("upstream circuit open",
			logging.String("upstream", rule.Name()),
		)
		return errors.UpstreamError("upstream temporarily unavailable", err).
			WithContext("upstream", rule.Name())
	default:
		f.logger.Error("upstream call failed", err,
			logging.String("upstream", rule.Name()),
			logging.Duration("latency", latency),
		)
		return errors.UpstreamError("upstream request failed", err).
			WithContext("upstream", rule.Name())
	}
}
