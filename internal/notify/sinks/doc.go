// Package sinks contains notify.Sink implementations: structured logging,
// Prometheus collectors, and Google Cloud Pub/Sub delivery.
package sinks
