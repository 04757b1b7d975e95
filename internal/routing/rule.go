// Package routing holds the gateway's static route table. Rules are
// compiled once at startup and never mutated afterwards.
package routing

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Access tags a rule's authorization requirement, resolved at compile time.
type Access int

const (
	// Public rules never invoke the authentication gate.
	Public Access = iota
	// Protected rules require a valid bearer token, except on endpoints
	// listed in the rule's public set.
	Protected
)

// Endpoint identifies one exact method+path pair within a rule's prefix.
type Endpoint struct {
	Method string
	Path   string
}

// HeaderStrategy computes route-specific headers for the outbound request.
// The forwarder only applies a computed header when the inbound request did
// not already carry a non-empty value for it.
type HeaderStrategy interface {
	Compute(r *http.Request) map[string]string
}

// Static is a constant header strategy.
type Static map[string]string

func (s Static) Compute(*http.Request) map[string]string {
	return s
}

// Dynamic computes headers from the inbound request.
type Dynamic func(r *http.Request) map[string]string

func (d Dynamic) Compute(r *http.Request) map[string]string {
	return d(r)
}

// RuleConfig declares one route before compilation.
type RuleConfig struct {
	Name              string
	PathPrefix        string
	Upstream          string
	Access            Access
	PublicEndpoints   []Endpoint
	PropagateIdentity bool
	Headers           HeaderStrategy
}

// Rule is a compiled, immutable route entry.
type Rule struct {
	name              string
	pathPrefix        string
	upstream          *url.URL
	access            Access
	public            map[string]struct{}
	propagateIdentity bool
	headers           HeaderStrategy
}

func compileRule(cfg RuleConfig) (*Rule, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("route rule requires a name")
	}
	if !strings.HasPrefix(cfg.PathPrefix, "/") {
		return nil, fmt.Errorf("route %s: path prefix must start with /", cfg.Name)
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("route %s: invalid upstream url: %w", cfg.Name, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("route %s: upstream url must be absolute, got %q", cfg.Name, cfg.Upstream)
	}

	rule := &Rule{
		name:              cfg.Name,
		pathPrefix:        cfg.PathPrefix,
		upstream:          upstream,
		access:            cfg.Access,
		propagateIdentity: cfg.PropagateIdentity,
		headers:           cfg.Headers,
	}

	if len(cfg.PublicEndpoints) > 0 {
		rule.public = make(map[string]struct{}, len(cfg.PublicEndpoints))
		for _, ep := range cfg.PublicEndpoints {
			rule.public[endpointKey(ep.Method, ep.Path)] = struct{}{}
		}
	}

	return rule, nil
}

func endpointKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Name returns the rule's identifier, used in logs and limiter keys.
func (r *Rule) Name() string {
	return r.name
}

// PathPrefix returns the matched prefix.
func (r *Rule) PathPrefix() string {
	return r.pathPrefix
}

// Upstream returns the upstream base URL.
func (r *Rule) Upstream() *url.URL {
	return r.upstream
}

// PropagateIdentity reports whether the authenticated subject id is
// forwarded to the upstream.
func (r *Rule) PropagateIdentity() bool {
	return r.propagateIdentity
}

// Headers returns the rule's header strategy, nil when the rule has none.
func (r *Rule) Headers() HeaderStrategy {
	return r.headers
}

// RequiresAuth reports whether the request must pass the authentication
// gate. Public endpoints are matched by exact method and path, never by
// substring.
func (r *Rule) RequiresAuth(req *http.Request) bool {
	if r.access == Public {
		return false
	}
	if len(r.public) == 0 {
		return true
	}
	_, ok := r.public[endpointKey(req.Method, req.URL.Path)]
	return !ok
}
