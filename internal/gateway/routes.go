package gateway

import (
	"net/http"

	"notify-gateway/internal/common/utils"
	"notify-gateway/internal/config"
	"notify-gateway/internal/routing"
)

// IdempotencyHeader lets an upstream collapse duplicate retries of the same
// logical request.
const IdempotencyHeader = "X-Idempotency-Key"

// DefaultRoutes builds the platform route table: user profile, template,
// and notification delivery upstreams. Sign-in and sign-up are the only
// public endpoints; everything else behind these prefixes requires a bearer
// token.
func DefaultRoutes(cfg *config.Config) []routing.RuleConfig {
	return []routing.RuleConfig{
		{
			Name:       "user",
			PathPrefix: "/user",
			Upstream:   cfg.UserServiceURL,
			Access:     routing.Protected,
			PublicEndpoints: []routing.Endpoint{
				{Method: http.MethodPost, Path: "/user/signup"},
				{Method: http.MethodPost, Path: "/user/signin"},
				{Method: http.MethodGet, Path: "/user/signin"},
			},
			PropagateIdentity: true,
		},
		{
			Name:              "template",
			PathPrefix:        "/template",
			Upstream:          cfg.TemplateServiceURL,
			Access:            routing.Protected,
			PropagateIdentity: true,
		},
		{
			Name:              "notification",
			PathPrefix:        "/notifications",
			Upstream:          cfg.NotificationServiceURL,
			Access:            routing.Protected,
			PropagateIdentity: true,
			Headers:           routing.Dynamic(deliveryHeaders),
		},
	}
}

// DefaultTable compiles the platform route table.
func DefaultTable(cfg *config.Config) (*routing.Table, error) {
	return routing.NewTable(DefaultRoutes(cfg))
}

// deliveryHeaders generates a fresh idempotency key and correlation id for
// the notification route. The forwarder only applies these when the caller
// did not supply its own values.
func deliveryHeaders(r *http.Request) map[string]string {
	return map[string]string{
		IdempotencyHeader: utils.GenerateIdempotencyKey(),
		CorrelationHeader: utils.GenerateCorrelationID(),
	}
}
