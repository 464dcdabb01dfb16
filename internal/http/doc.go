// Package http exposes the chairperson portal over a chi router.
//
// Public endpoints:
//   - POST /users: register. Body {"email","display_name","password","gender"}.
//   - POST /sessions: sign in. Returns {"token","expires_at","user"}; the token is
//     also set as the `session_token` cookie and the `X-Session-Token` header.
//   - GET /calendar.ics: iCalendar feed of upcoming meetings.
//   - GET /healthz: store reachability.
//
// Endpoints behind a session (Bearer token or cookie):
//   - DELETE /sessions/current, GET /me, PUT /me
//   - GET /calendar?from=&to=, GET /meetings/{id}
//   - POST and DELETE /meetings/{id}/signup, GET /me/signups
//   - POST /availability, GET /availability/mine, DELETE /availability/{id}
//
// Administrator endpoints live under /admin: user listing, meeting CRUD and
// cancellation, ICS import, per-date availability and a manual reminder scan.
//
// Errors use {"error_code","message","errors"}; see errorResponseFor for the
// mapping from application errors.
package http
