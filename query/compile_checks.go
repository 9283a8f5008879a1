package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

var (
	_ gocmd.Querier[GetEventMessage, core.Event]             = (*GetEventQuery)(nil)
	_ gocmd.Querier[ListActionRunsMessage, []core.ActionRun] = (*ListActionRunsQuery)(nil)
)
