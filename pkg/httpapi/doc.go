// Package httpapi serves feature evaluation, experiment assignment, event
// ingestion and administration over HTTP with a chi router.
//
// Every JSON response is wrapped in an envelope: {"data": ...} on success
// and {"error": {"code": ..., "message": ...}} on failure. Errors map to
// status codes as follows:
//
//   - malformed bodies and parameters: 400
//   - unknown flags, overrides, experiments and assignments: 404
//   - duplicate experiment ids and updates that keep losing races: 409
//   - rejected input and invalid lifecycle transitions: 422
//   - partially applied bulk toggles: 207 with the toggle report
//   - anything else: 500 with a generic message
//
// Assignment requests are on the runtime path and only fail for a missing
// user id. Unknown experiments and backend errors answer "control".
//
// Routes:
//
//	GET    /livez
//	GET    /readyz
//	GET    /v1/users/{userID}/features?names=a,b
//	GET    /v1/users/{userID}/features/{name}?eligible=false
//	POST   /v1/experiments/{id}/assignments
//	POST   /v1/experiments/{id}/events
//	GET    /v1/admin/flags
//	GET    /v1/admin/flags/{name}
//	PUT    /v1/admin/flags/{name}
//	DELETE /v1/admin/flags/{name}
//	POST   /v1/admin/flags/{name}/enabled
//	POST   /v1/admin/flags/{name}/rollout
//	POST   /v1/admin/flags/{name}/toggle-tree
//	PUT    /v1/admin/flags/{name}/overrides/{userID}
//	DELETE /v1/admin/flags/{name}/overrides/{userID}
//	GET    /v1/admin/experiments?status=running,paused
//	POST   /v1/admin/experiments
//	GET    /v1/admin/experiments/{id}
//	PUT    /v1/admin/experiments/{id}/allocation
//	POST   /v1/admin/experiments/{id}/start
//	POST   /v1/admin/experiments/{id}/pause
//	POST   /v1/admin/experiments/{id}/stop
//	GET    /v1/admin/experiments/{id}/statistics
//	POST   /v1/admin/experiments/{id}/winner
//	GET    /v1/admin/experiments/{id}/snapshot   (with WithRefresher)
//	GET    /v1/admin/catalog?category=workout    (with WithCatalog)
//	GET    /v1/admin/catalog/{name}              (with WithCatalog)
//
// The user id is trusted as given; authentication belongs in front of this
// handler.
package httpapi
