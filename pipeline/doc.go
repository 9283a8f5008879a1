// Package pipeline contains the event processing pipeline: the Processor
// resolves a routing decision and executes the mapped action through the
// idempotency ledger, and the Worker drives the claim/process/settle loop
// against the durable event queue.
package pipeline
