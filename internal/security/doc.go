// Package security implements per-request authentication orchestration.
//
// A SecurityContext is created for each request and walks an ordered chain
// of pluggable mechanisms (or reuses an established session) to decide
// whether the request is authenticated, which mechanism won, and what
// challenge data must be staged on a negative response before it is
// finalized. The chain runs under an Executor so that slow credential
// checks can be handed off to a bounded worker pool instead of occupying
// request goroutines.
//
// The chain is first-match-wins: mechanisms are tried strictly in
// registration order, one at a time. A mechanism that finds no credentials
// of its kind reports NotAttempted and the walk moves on; the first
// authenticated result stops the walk; any other outcome is terminal and
// schedules every mechanism's challenge so the client sees all acceptable
// schemes. Challenge execution is deferred to response completion and is
// skipped when the response already started transmission.
package security
