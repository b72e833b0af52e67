package webhook

import (
	"context"

	"github.com/officefloor/officefloor/internal/execute"
)

// Invoker starts processes. *officefloor.OfficeFloor satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, office, function string, parameter any, callback func(execute.Outcome)) (string, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g., "/hooks/orders")
	Path     string
	Office   string
	Function string

	// Secret is the HMAC secret for signature verification
	Secret string

	// SignatureHeader is the HTTP header containing the HMAC signature,
	// e.g. "X-Hub-Signature-256" (GitHub).
	SignatureHeader string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64
}

// TriggerResponse is the JSON response for accepted webhooks.
type TriggerResponse struct {
	ProcessID string `json:"process_id"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DefaultMaxBodySize is 1 MB.
const DefaultMaxBodySize = 1048576
