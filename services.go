package dispatch

import "github.com/goliatone/go-dispatch/core"

type Config = core.Config

type WorkerConfig = core.WorkerConfig
type RouterConfig = core.RouterConfig
type IngressConfig = core.IngressConfig
type RunnerConfig = core.RunnerConfig

type Event = core.Event
type ActionRun = core.ActionRun
type RoutingRule = core.RoutingRule
type ProviderMapping = core.ProviderMapping

type RoutingConfig = core.RoutingConfig
type MappingConfig = core.MappingConfig
type RuleConfig = core.RuleConfig

type EnqueueReceipt = core.EnqueueReceipt
type ApplyReport = core.ApplyReport
type ProcessReceipt = core.ProcessReceipt
type RouteDecision = core.RouteDecision

type EventStore = core.EventStore
type RuleStore = core.RuleStore
type ActionRunStore = core.ActionRunStore
type ActionRunner = core.ActionRunner
type StructuredClient = core.StructuredClient

type Logger = core.Logger
type LoggerProvider = core.LoggerProvider

func DefaultConfig() Config {
	return core.DefaultConfig()
}
