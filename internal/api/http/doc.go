// Package http exposes the application registry over a gin router.
//
// Routes:
//   - GET    /health, /metrics
//   - GET    /apps?kind=downloaded|signed
//   - POST   /apps (multipart upload)
//   - GET    /apps/:id, /apps/:id/icon, /apps/:id/export
//   - PUT    /apps/:id/status
//   - DELETE /apps/:id
//   - POST   /sweep
//   - GET    /sources
//
// Registry errors map to statuses through StatusCode: NOT_FOUND is 404,
// CONFLICT and INVALID_TRANSITION are 409, INVALID_INPUT is 400 and
// CANCELLED is 499. A removal that left its directory behind answers 207.
package http
