// Package core contains canonical dispatch domain contracts, entities, and
// configuration. Lower-level adapters (stores, transport, runners) must depend
// on this package; core must not depend on any adapter.
package core
