// Package handlers implements the HTTP API surface: content generation,
// project queries, budget and queue inspection, websocket progress events,
// and health probes. Handlers depend on small interfaces so the transport
// layer stays decoupled from the pipeline and storage implementations.
package handlers
