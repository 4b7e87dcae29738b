/*
Package api implements the distributed-worker REST API and operator
health endpoints of spec.md §6.1/§6.2: worker registration and token
lifecycle, task claim/status/heartbeat for federated distributed
workers, the frontend push-message websocket feed, and liveness/
readiness probes.

# Routing

The router is a github.com/go-chi/chi/v5 Mux, mirroring the chi stack
already used elsewhere in the example pack for REST services (see
DESIGN.md). Under /api/v2/workers, token refresh, verify and heartbeat
run behind requireAuth; register, token issue and revoke, and the
worker list/get/update/delete routes are mounted without it. The task
claim and status endpoints run behind requireAuth. requireAuth validates
the bearer token via pkg/workerauth and checks the caller's role set
against the endpoint's requirement (worker or admin for heartbeat,
claim and status) before the handler runs - 401 for a missing/invalid/
expired/revoked token, 403 for a valid token lacking the required role,
matching spec.md §4.H.

# Response envelope

Every distributed-worker endpoint returns JSON shaped
{"success": bool, ...}; failures add "error": "<message>" and pick a
status code from the error's orcherr.Kind (auth -> 401/403,
resource_missing -> 404, user_config -> 400, anything else -> 500).
Health endpoints (§6.2) use their own documented shape instead.
*/
package api
