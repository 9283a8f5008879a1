package sqlstore

import "github.com/goliatone/go-dispatch/core"

var (
	_ core.EventStore     = (*EventStore)(nil)
	_ core.RuleStore      = (*RuleStore)(nil)
	_ core.ActionRunStore = (*ActionRunStore)(nil)
)
