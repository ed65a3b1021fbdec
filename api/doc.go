/*
Package api contains the HTTP surface of the sidechain registry.

It is organized into subpackages:

  - callerauth - resolves the calling identity from request headers
  - handlers - maps registry operations onto chi routes
  - servers - HTTP server lifecycle, health endpoints and metrics
  - clients - typed client and SRV based discovery of registry servers

This package holds the request and response bodies shared by handlers and
clients, and the server configuration.

# Routes

	GET    /api/v1/owner
	GET    /api/v1/permissions/{address}
	PUT    /api/v1/permissions/{address}      {"bits": N}
	GET    /api/v1/change-agents
	GET    /api/v1/change-agents/{address}
	PUT    /api/v1/change-agents/{address}    {"enabled": true}
	GET    /api/v1/sidechains
	GET    /api/v1/sidechains/{address}
	POST   /api/v1/sidechains/{address}       {"marketplace_id": N}
	DELETE /api/v1/sidechains/{address}
	GET    /api/v1/notifications?since=S&limit=L
	POST   /api/admin/checkpoint

Mutating routes require a resolved caller. In signature mode the caller sends
X-Caller-Address, X-Caller-Timestamp, X-Caller-Nonce and X-Caller-Signature;
see callerauth.Digest for what is signed. Errors are returned as plain text
with status 400 (invalid identity or argument), 401 (no caller or rejected credentials), 403
(unauthorized caller) or 409 (sidechain already active).
*/
package api
