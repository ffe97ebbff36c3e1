// Package httpserver exposes the frontdoor HTTP surface: capability
// discovery, challenge issuance, signature verification, session and
// timeline polling, plus the operational endpoints (liveness, readiness,
// drain control and optional pprof).
package httpserver
