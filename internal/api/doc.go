// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs/process and /v1/jobs/crawl for job submission.
//   - GET /v1/jobs/{job_id} for job status polling.
//   - POST /v1/comments/sweep and /v1/comments/requeue plus
//     GET /v1/comments/{id} and /v1/comments/stats for queue maintenance
//     and inspection.
package api
