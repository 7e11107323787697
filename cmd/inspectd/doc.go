// Package main hosts the inspection service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and inspection endpoints. Inbound specifications are
//     validated through Dockerfile generation, transcoded by internal/inspection (quote escaping plus integer field
//     casting for the workflow template engine), and submitted to the cluster orchestrator.
//   - Orchestrator client: internal/orchestrator/kube wraps client-go. Workflows are created as Argo Workflow custom
//     resources through the dynamic client; pod and job state plus logs come from the typed clientset. The cluster
//     remains the sole owner of workflow state and specification storage.
//   - Event trail & fanout: submissions are optionally appended to a Postgres audit table (internal/store/postgres)
//     and published to Pub/Sub (internal/publisher/pubsub). Both default to no-ops when unconfigured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the telemetry middleware and /metrics handler. The service is stateless across
//     requests and safe to scale horizontally.
//
// Operational notes:
//   - Concurrency model: handlers are independent; all cluster interaction happens per request through client-go
//     with the request context. Shutdown is coordinated via signal.NotifyContext and http.Server.Shutdown.
//   - Observability: zap logs carry inspection IDs at key transitions; Prometheus counters/histograms track API and
//     scheduling activity. Tracing is not yet wired in.
//
// Quick checklist:
//   - Configure env vars: INSPECTD_SERVER_PORT, INSPECTD_KUBERNETES_NAMESPACE, INSPECTD_INSPECTION_BUILD_TARGET,
//     INSPECTD_EVENTS_PROVIDER/DSN, INSPECTD_PUBLISHER_PROVIDER/PROJECT_ID/TOPIC_NAME when persistence or fanout
//     beyond the defaults is required.
//   - Run locally: go run ./cmd/inspectd -config config.yaml (or rely solely on env overrides).
//   - In cluster: the process picks up the in-cluster service account automatically, listens on the configured
//     port, and shuts down cleanly on SIGTERM.
package main
