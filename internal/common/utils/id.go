// Package utils provides identifier generation helpers used across the gateway.
package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateCorrelationID generates a unique correlation id for cross-service
// log correlation. The id is a UUID v4, unique per request.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// GenerateIdempotencyKey generates a unique idempotency key so upstreams can
// collapse duplicate retries of the same logical request.
func GenerateIdempotencyKey() string {
	return uuid.NewString()
}

// GenerateRequestID generates a request ID in the format
// "req-{uuid}-{timestamp}". The timestamp suffix keeps ids roughly sortable
// by creation time.
func GenerateRequestID() string {
	return fmt.Sprintf("req-%s-%d", uuid.NewString(), time.Now().Unix())
}
