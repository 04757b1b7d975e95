// Package gateway wires the ingress pipeline: rate limiter, route
// classification, authentication gate, forwarder, and response envelope.
package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"notify-gateway/internal/auth"
	"notify-gateway/internal/common/errors"
	"notify-gateway/internal/common/logging"
	"notify-gateway/internal/common/utils"
	"notify-gateway/internal/config"
	"notify-gateway/internal/envelope"
	"notify-gateway/internal/proxy"
	"notify-gateway/internal/ratelimit"
	"notify-gateway/internal/routing"
)

// CorrelationHeader propagates one id across a request's hops.
const CorrelationHeader = "X-Correlation-ID"

// HealthChecker reports the health of an external dependency.
type HealthChecker interface {
	Health() error
}

// Gateway is the single ingress handler. Every inbound request flows
// through: limiter -> route table -> gate (when required) -> forwarder ->
// envelope. A request that fails the limiter or the gate never reaches the
// forwarder.
type Gateway struct {
	config    *config.Config
	table     *routing.Table
	gate      *auth.Gate
	limiter   *ratelimit.Limiter
	burst     *ratelimit.LocalLimiter
	forwarder *proxy.Forwarder
	store     HealthChecker
	logger    logging.Logger
}

// Options carries the gateway's dependencies.
type Options struct {
	Config    *config.Config
	Table     *routing.Table
	Gate      *auth.Gate
	Limiter   *ratelimit.Limiter
	Burst     *ratelimit.LocalLimiter
	Forwarder *proxy.Forwarder
	Store     HealthChecker
	Logger    logging.Logger
}

// New assembles the gateway from its components.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Gateway{
		config:    opts.Config,
		table:     opts.Table,
		gate:      opts.Gate,
		limiter:   opts.Limiter,
		burst:     opts.Burst,
		forwarder: opts.Forwarder,
		store:     opts.Store,
		logger:    logger,
	}
}

// Router mounts the gateway surface: the health endpoint plus the
// catch-all proxy handler.
func (g *Gateway) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", g.HandleHealth).Methods(http.MethodGet)
	router.PathPrefix("/").HandlerFunc(g.HandleProxy)
	return router
}

// HandleHealth reports gateway and store health.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"gateway": "ok"}

	if g.store != nil {
		if err := g.store.Health(); err != nil {
			status["store"] = "unavailable"
			envelope.WriteJSON(w, http.StatusServiceUnavailable, envelope.Failure("store unavailable"))
			return
		}
		status["store"] = "ok"
	}

	envelope.WriteJSON(w, http.StatusOK, envelope.Success(status))
}

// HandleProxy runs the full ingress pipeline for one request.
func (g *Gateway) HandleProxy(w http.ResponseWriter, r *http.Request) {
	rw := wrapWriter(w)

	callerIP := ratelimit.ClientIP(r)

	if g.burst != nil && !g.burst.Allow(callerIP) {
		g.logger.Warn("burst guard rejected request",
			logging.String("caller", callerIP),
			logging.String("path", r.URL.Path),
		)
		envelope.WriteError(rw, errors.RateLimitError("client"))
		return
	}

	if !g.checkRateLimit(rw, r, callerIP) {
		return
	}

	rule, ok := g.table.Classify(r.URL.Path)
	if !ok {
		envelope.WriteError(rw, errors.NotFoundError("route"))
		return
	}

	rctx := &proxy.RequestContext{
		CorrelationID: g.correlationID(r),
	}

	if rule.RequiresAuth(r) {
		claims, err := g.gate.Authenticate(r)
		if err != nil {
			g.logger.Warn("authentication rejected",
				logging.String("path", r.URL.Path),
				logging.String("upstream", rule.Name()),
			)
			envelope.WriteError(rw, errors.AuthError("authentication required"))
			return
		}
		rctx.Claims = claims
	}

	r.Body = http.MaxBytesReader(rw, r.Body, g.config.MaxBodySize)

	resp, err := g.forwarder.Forward(r, rule, rctx)
	if err != nil {
		if stderrors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// Client gone; writing would hit a closed connection.
			g.logger.Debug("client disconnected before upstream response",
				logging.String("upstream", rule.Name()),
			)
			return
		}
		envelope.WriteError(rw, err)
		return
	}

	g.writeUpstreamResponse(rw, rule, resp)
}

// checkRateLimit runs the distributed limiter and answers 429 when the
// caller is blocked. Store errors fail open: a degraded store must not
// black-hole the platform.
func (g *Gateway) checkRateLimit(w http.ResponseWriter, r *http.Request, callerIP string) bool {
	if g.limiter == nil || !g.limiter.Enabled() {
		return true
	}

	key := ratelimit.Key("gateway", callerIP)
	result, err := g.limiter.IncrementDefault(r.Context(), key)
	if err != nil {
		g.logger.Error("rate limit check failed, allowing request", err,
			logging.String("key", key),
		)
		return true
	}

	if result.Blocked {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(result.TimeToBlockExpire.Seconds())))
		envelope.WriteError(w, errors.RateLimitError("caller").
			WithContext("retry_after", result.TimeToBlockExpire.String()))
		return false
	}

	remaining := int64(g.limiter.Limit()) - result.TotalHits
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", g.limiter.Limit()))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

	return true
}

// correlationID reads the caller's correlation id or generates one, and
// reflects it back on the inbound header so the route's header strategy
// forwards the same value.
func (g *Gateway) correlationID(r *http.Request) string {
	id := r.Header.Get(CorrelationHeader)
	if id == "" {
		id = utils.GenerateCorrelationID()
		r.Header.Set(CorrelationHeader, id)
	}
	return id
}

// writeUpstreamResponse normalizes the upstream body into the envelope.
// Upstream 5xx responses collapse into the uniform failure envelope so
// internal errors never leak; anything below 500 passes through with its
// status.
func (g *Gateway) writeUpstreamResponse(w http.ResponseWriter, rule *routing.Rule, resp *proxy.UpstreamResponse) {
	if resp.Status >= http.StatusInternalServerError {
		g.logger.Error("upstream returned server error", nil,
			logging.String("upstream", rule.Name()),
			logging.Int("status", resp.Status),
			logging.Duration("latency", resp.Latency),
		)
		envelope.WriteError(w, errors.UpstreamError("upstream request failed", nil).
			WithContext("upstream", rule.Name()))
		return
	}

	envelope.WriteRaw(w, resp.Status, envelope.Normalize(resp.Body))
}

// responseWriter tracks whether a response has been sent, so the error
// mapper can suppress a second write on the same connection.
type responseWriter struct {
	http.ResponseWriter
	wrote bool
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.wrote = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(data)
}

// Written reports whether a response has been sent.
func (rw *responseWriter) Written() bool {
	return rw.wrote
}
