// Package webhook exposes office functions to external services through
// HMAC-SHA256 signed HTTP endpoints.
//
// Each endpoint binds a path to one office function. A verified request
// starts a process with the request body as parameter: JSON bodies are
// decoded, anything else is passed as a string.
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/orders
//	      office: SHOP
//	      function: order
//	      secret: ${ORDERS_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 1MB
//
// Responses:
//
//   - 202 Accepted with the process id once the process has started
//   - 403 Forbidden for a missing or invalid signature, without details
//   - 404 Not Found for an unknown path or office function
//   - 413 Payload Too Large when the body exceeds max_body_size
//   - 503 Service Unavailable while the office floor closes
package webhook
