package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-gateway/internal/auth"
	"notify-gateway/internal/common/errors"
	"notify-gateway/internal/common/utils"
	"notify-gateway/internal/routing"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

func captureUpstream(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		captured.header = r.Header.Clone()
		captured.body = string(data)

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, captured
}

func ruleFor(t *testing.T, upstream string, cfg routing.RuleConfig) *routing.Rule {
	t.Helper()
	cfg.Upstream = upstream
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/"
	}

	table, err := routing.NewTable([]routing.RuleConfig{cfg})
	require.NoError(t, err)
	return table.Rules()[0]
}

func TestForwarder_PreservesRequestShape(t *testing.T) {
	server, captured := captureUpstream(t, http.StatusOK, `{"ok":true}`)
	forwarder := New(DefaultConfig(), nil)
	rule := ruleFor(t, server.URL, routing.RuleConfig{})

	r := httptest.NewRequest(http.MethodPut, "/user/42?verbose=1", strings.NewReader(`{"name":"Ada"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer original-token")
	r.Header.Set("Connection", "keep-alive")

	resp, err := forwarder.Forward(r, rule, &RequestContext{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, http.MethodPut, captured.method)
	assert.Equal(t, "/user/42", captured.path)
	assert.Equal(t, "verbose=1", captured.query)
	assert.Equal(t, `{"name":"Ada"}`, captured.body)
	assert.Equal(t, "application/json", captured.header.Get("Content-Type"))
	assert.Equal(t, "Bearer original-token", captured.header.Get("Authorization"),
		"Authorization must reach the upstream verbatim")
	assert.Empty(t, captured.header.Get("Connection"), "hop-by-hop headers are dropped")
}

func TestForwarder_IdentityPropagation(t *testing.T) {
	server, captured := captureUpstream(t, http.StatusOK, `{}`)
	forwarder := New(DefaultConfig(), nil)

	t.Run("propagating rule sets the identity header", func(t *testing.T) {
		rule := ruleFor(t, server.URL, routing.RuleConfig{PropagateIdentity: true})
		r := httptest.NewRequest(http.MethodGet, "/user/42", nil)

		_, err := forwarder.Forward(r, rule, &RequestContext{
			Claims: &auth.Claims{Subject: "user-42"},
		})
		require.NoError(t, err)
		assert.Equal(t, "user-42", captured.header.Get(IdentityHeader))
	})

	t.Run("non-propagating rule leaves it unset", func(t *testing.T) {
		rule := ruleFor(t, server.URL, routing.RuleConfig{})
		r := httptest.NewRequest(http.MethodGet, "/template/x", nil)

		_, err := forwarder.Forward(r, rule, &RequestContext{
			Claims: &auth.Claims{Subject: "user-42"},
		})
		require.NoError(t, err)
		assert.Empty(t, captured.header.Get(IdentityHeader))
	})
}

func TestForwarder_HeaderStrategyFillsGapsOnly(t *testing.T) {
	server, captured := captureUpstream(t, http.StatusAccepted, `{}`)
	forwarder := New(DefaultConfig(), nil)

	rule := ruleFor(t, server.URL, routing.RuleConfig{
		Headers: routing.Dynamic(func(r *http.Request) map[string]string {
			return map[string]string{
				"X-Idempotency-Key": utils.GenerateIdempotencyKey(),
				"X-Correlation-ID":  utils.GenerateCorrelationID(),
			}
		}),
	})

	t.Run("caller-supplied value is preserved verbatim", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/notifications", nil)
		r.Header.Set("X-Idempotency-Key", "caller-chose-this")

		_, err := forwarder.Forward(r, rule, &RequestContext{})
		require.NoError(t, err)
		assert.Equal(t, "caller-chose-this", captured.header.Get("X-Idempotency-Key"))
		assert.NotEmpty(t, captured.header.Get("X-Correlation-ID"), "missing header still gets generated")
	})

	t.Run("generated values are unique per request", func(t *testing.T) {
		r1 := httptest.NewRequest(http.MethodPost, "/notifications", nil)
		_, err := forwarder.Forward(r1, rule, &RequestContext{})
		require.NoError(t, err)
		first := captured.header.Get("X-Idempotency-Key")

		r2 := httptest.NewRequest(http.MethodPost, "/notifications", nil)
		_, err = forwarder.Forward(r2, rule, &RequestContext{})
		require.NoError(t, err)
		second := captured.header.Get("X-Idempotency-Key")

		assert.NotEmpty(t, first)
		assert.NotEmpty(t, second)
		assert.NotEqual(t, first, second)
	})
}

func TestForwarder_UpstreamUnreachable(t *testing.T) {
	forwarder := New(DefaultConfig(), nil)
	rule := ruleFor(t, "http://127.0.0.1:1", routing.RuleConfig{})

	r := httptest.NewRequest(http.MethodGet, "/user/42", nil)
	_, err := forwarder.Forward(r, rule, &RequestContext{})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
}

func TestForwarder_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.Timeout = 20 * time.Millisecond
	forwarder := New(config, nil)
	rule := ruleFor(t, server.URL, routing.RuleConfig{})

	r := httptest.NewRequest(http.MethodGet, "/user/42", nil)
	_, err := forwarder.Forward(r, rule, &RequestContext{})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
}

func TestForwarder_BreakerOpensOnRepeatedFailures(t *testing.T) {
	config := DefaultConfig()
	config.Breaker.MaxFailures = 2
	forwarder := New(config, nil)
	rule := ruleFor(t, "http://127.0.0.1:1", routing.RuleConfig{Name: "dead"})

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		_, err := forwarder.Forward(r, rule, &RequestContext{})
		require.Error(t, err)
	}

	// Breaker is now open; failure is reported without dialing.
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	_, err := forwarder.Forward(r, rule, &RequestContext{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	assert.Contains(t, err.Error(), "temporarily unavailable")
}

func TestForwarder_BodySizeCap(t *testing.T) {
	forwarder := New(DefaultConfig(), nil)
	server, _ := captureUpstream(t, http.StatusOK, `{}`)
	rule := ruleFor(t, server.URL, routing.RuleConfig{})

	r := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(strings.Repeat("x", 100)))
	r.Body = http.MaxBytesReader(nil, r.Body, 10)

	_, err := forwarder.Forward(r, rule, &RequestContext{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
