// Package main hosts the fleetpoller service entrypoint.
//
// Architecture overview:
//   - Fleet: internal/fleet provisions ephemeral proxy units against a cloud
//     control plane (internal/cloud), reusing shared per-region resources via
//     a ResourceCache and retrying transient failures with internal/retry.
//     The unit list survives restarts through internal/store/file and is
//     validated against the live platform on startup.
//   - Scheduler: internal/schedule interleaves the configured target groups
//     into a fixed base rotation and layers a priority overlay on top, with
//     bounded line-cutting per tier and a per-target re-check throttle.
//   - Workers: internal/worker pins one worker to each proxy unit. Workers
//     pull targets from the scheduler, run them through the configured
//     executor (headless Chrome via internal/executor/chromedp or a plain
//     HTTP probe via internal/executor/colly), persist changed observations,
//     and promote targets whose pages show live state.
//   - Persistence & fanout: observations land in the configured store
//     (file/postgres/memory); diagnostic page snapshots go to the capture
//     store (local/gcs/memory). Lifecycle events flow through the notify hub
//     to zap logs, Prometheus counters, and optionally Pub/Sub.
//   - Configuration & plumbing: Viper populates config from files and
//     FLEETPOLLER_* env vars; zap provides structured logging; the chi-based
//     HTTP server exposes /healthz, /metrics, /v1/status, and fleet teardown.
//
// Operational notes:
//   - Concurrency model: one session per worker, pinned to one proxy unit for
//     its lifetime. Shutdown is coordinated via context cancellation from the
//     run command through the pool to each worker.
//   - Run locally: go run . run --config config.yaml after provisioning with
//     go run . create 3.
package main
