// Package classifyd serves image classification over HTTP.
//
// The service exposes a single-image endpoint (POST /predict/{guid}) that
// answers synchronously, and a batch job API (POST/GET /api/jobs) that runs a
// folder through the batch producer in the background. Each job's snapshot is
// persisted in the job store and served from GET /api/jobs/{id} in the same
// JSON layout as the status file, so remote consumers can watch it with the
// monitor's HTTP store. Prometheus metrics are served from /metrics.
//
// Only one service instance may own a state directory; Start takes an
// exclusive flock on the configured lock path.
package classifyd
