// Package dispatch validates, authorizes, invokes, and classifies
// executeCommand requests against a worker's loaded plugins.
//
// The pipeline, in order: a restart short-circuit, structural validation of
// the inbound Command, plugin lookup, an authorization predicate call, a
// method-existence check, invocation, and classification of the returned
// value into one of a handful of operation types the Worker Runtime uses to
// shape its HTTP response. Everything from the authorization call through
// invocation runs under a single mutex so a worker invokes one plugin
// method at a time, matching the single-threaded cooperative execution model
// of the plugins it hosts; the restart check, validation and plugin lookup
// run before that mutex is taken.
package dispatch
