package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnqueueEventMessage]       = (*EnqueueEventCommand)(nil)
	_ gocmd.Commander[ApplyRoutingConfigMessage] = (*ApplyRoutingConfigCommand)(nil)
	_ gocmd.Commander[ProcessNextMessage]        = (*ProcessNextCommand)(nil)
)
