// Package ingress is the HTTP boundary: it authenticates and verifies
// incoming webhook deliveries, derives a stable external event id, and
// enqueues the payload envelope. Handlers never wait on event processing;
// the worker drains the queue independently.
package ingress
