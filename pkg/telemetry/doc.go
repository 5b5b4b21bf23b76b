// telemetry records per-step deployment metrics and pushes them to a
// Prometheus push gateway once a run finishes.
// Supported metrics includes:
// - rps(ship_step_started_total)
// - success/error count(ship_step_handled_total)
// - latency histogram(ship_step_handling_seconds_bucket)
package telemetry
