// Package http implements the local control API served by `cardauth serve`.
// Handlers are thin: they decode and validate requests, call the session
// manager and render JSON with go-chi/render. Failures are rendered as
// RFC 7807 problem documents by the errors package.
//
// # Endpoints
//
//	GET  /api/health            liveness and version
//	GET  /api/session           current session view
//	POST /api/session/login     {"card": "..."}; rate limited
//	POST /api/session/logout
//	POST /api/session/heartbeat
//	GET  /api/config/status     credential check
//	GET  /api/ping              card API reachability
//
// Card numbers are masked in every response.
package http
