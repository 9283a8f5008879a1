// Package router resolves an ingested payload to a routing decision:
// heuristic provider detection, ordered rule evaluation, provider-mapping
// fallback, and an optional AI classifier consulted only below a confidence
// threshold. Routing is a pure function of the payload and the committed
// rule state, so re-running it on a redelivered payload is safe.
package router
