package dispatch

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-dispatch/classifier"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/ingress"
	"github.com/goliatone/go-dispatch/pipeline"
	"github.com/goliatone/go-dispatch/router"
	"github.com/goliatone/go-dispatch/runner"
	sqlstore "github.com/goliatone/go-dispatch/store/sql"
)

// Service is the composed dispatch pipeline: ingestion, routing, and action
// execution over one durable event queue. It is the mutating surface behind
// the command handlers and the read surface behind the query handlers.
type Service struct {
	config         core.Config
	logger         core.Logger
	loggerProvider core.LoggerProvider

	events core.EventStore
	rules  core.RuleStore
	runs   core.ActionRunStore

	payloadRouter *router.Router
	actionRunner  core.ActionRunner
	processor     *pipeline.Processor
	worker        *pipeline.Worker
}

// ServiceDependencies exposes the wired collaborators for composition by
// downstream surfaces (HTTP ingress, CLI, tests).
type ServiceDependencies struct {
	Logger         core.Logger
	LoggerProvider core.LoggerProvider
	EventStore     core.EventStore
	RuleStore      core.RuleStore
	ActionRunStore core.ActionRunStore
	Router         *router.Router
	ActionRunner   core.ActionRunner
}

type serviceBuilder struct {
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	persistenceClient any
	ruleCache         repositorycache.CacheService
	structuredClient  core.StructuredClient
	actionRunner      core.ActionRunner
	events            core.EventStore
	rules             core.RuleStore
	runs              core.ActionRunStore
}

type Option func(*serviceBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithPersistence wires the SQL stores from a persistence client
// (*persistence.Client or *bun.DB).
func WithPersistence(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithStores injects store implementations directly, bypassing persistence
// wiring. Nil entries keep whatever persistence resolved.
func WithStores(events core.EventStore, rules core.RuleStore, runs core.ActionRunStore) Option {
	return func(b *serviceBuilder) {
		b.events = events
		b.rules = rules
		b.runs = runs
	}
}

// WithRuleCache wraps the rule store in the read-through cache.
func WithRuleCache(cache repositorycache.CacheService) Option {
	return func(b *serviceBuilder) {
		b.ruleCache = cache
	}
}

// WithStructuredClient provides the LLM backend used for llm handler runs
// and, when router.use_classifier is set, AI provider classification.
func WithStructuredClient(client core.StructuredClient) Option {
	return func(b *serviceBuilder) {
		b.structuredClient = client
	}
}

// WithActionRunner replaces the default subprocess/LLM runner.
func WithActionRunner(actionRunner core.ActionRunner) Option {
	return func(b *serviceBuilder) {
		b.actionRunner = actionRunner
	}
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("dispatch", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("dispatch"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.configProvider == nil {
		builder.configProvider = core.NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = core.GoOptionsResolver{}
	}

	defaults := core.DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, core.MapError(err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, cfg)
	if err != nil {
		return nil, core.MapError(err)
	}

	if (builder.events == nil || builder.rules == nil || builder.runs == nil) && builder.persistenceClient != nil {
		factory := sqlstore.NewRepositoryFactory()
		if buildErr := factory.BuildStores(builder.persistenceClient); buildErr != nil {
			return nil, core.MapError(buildErr)
		}
		if builder.events == nil {
			builder.events = factory.EventStore()
		}
		if builder.rules == nil {
			builder.rules = factory.RuleStore()
		}
		if builder.runs == nil {
			builder.runs = factory.ActionRunStore()
		}
	}
	if builder.events == nil || builder.rules == nil || builder.runs == nil {
		return nil, core.MapError(fmt.Errorf("dispatch: event, rule, and action run stores are required"))
	}

	rules := builder.rules
	if builder.ruleCache != nil {
		cached, cacheErr := sqlstore.NewCachedRuleStore(rules, builder.ruleCache)
		if cacheErr != nil {
			return nil, core.MapError(cacheErr)
		}
		rules = cached
	}

	routerOpts := []router.Option{}
	if finalConfig.Router.UseClassifier {
		if builder.structuredClient == nil {
			return nil, core.MapError(fmt.Errorf("dispatch: router.use_classifier requires a structured client"))
		}
		payloadClassifier, classifierErr := classifier.New(builder.structuredClient, logger)
		if classifierErr != nil {
			return nil, core.MapError(classifierErr)
		}
		routerOpts = append(routerOpts, router.WithClassifier(payloadClassifier, finalConfig.Router.ClassifierThreshold))
	}
	payloadRouter, err := router.New(rules, routerOpts...)
	if err != nil {
		return nil, core.MapError(err)
	}

	actionRunner := builder.actionRunner
	if actionRunner == nil {
		runnerOpts := []runner.Option{runner.WithLogger(logger)}
		if builder.structuredClient != nil {
			runnerOpts = append(runnerOpts, runner.WithStructuredClient(builder.structuredClient))
		}
		actionRunner, err = runner.New(finalConfig.Runner, runnerOpts...)
		if err != nil {
			return nil, core.MapError(err)
		}
	}

	processor, err := pipeline.NewProcessor(payloadRouter, builder.runs, actionRunner, logger)
	if err != nil {
		return nil, core.MapError(err)
	}
	worker, err := pipeline.NewWorker(builder.events, processor, finalConfig.Worker, logger)
	if err != nil {
		return nil, core.MapError(err)
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		events:         builder.events,
		rules:          rules,
		runs:           builder.runs,
		payloadRouter:  payloadRouter,
		actionRunner:   actionRunner,
		processor:      processor,
		worker:         worker,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:         s.logger,
		LoggerProvider: s.loggerProvider,
		EventStore:     s.events,
		RuleStore:      s.rules,
		ActionRunStore: s.runs,
		Router:         s.payloadRouter,
		ActionRunner:   s.actionRunner,
	}
}

// Enqueue stores one inbound event for asynchronous processing. A duplicate
// (source, eventID) pair returns the existing row with AlreadyExists set.
func (s *Service) Enqueue(ctx context.Context, source string, eventID string, payload map[string]any) (core.EnqueueReceipt, error) {
	if s == nil || s.events == nil {
		return core.EnqueueReceipt{}, core.MapError(fmt.Errorf("dispatch: event store is required"))
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return core.EnqueueReceipt{}, core.BadInputError("dispatch: event source is required", nil)
	}

	receipt, err := s.events.Enqueue(ctx, source, strings.TrimSpace(eventID), payload)
	if err != nil {
		return core.EnqueueReceipt{}, core.MapError(err)
	}
	s.logger.Info("event enqueued",
		"source", source,
		"event_id", eventID,
		"row_id", receipt.ID,
		"duplicate", receipt.AlreadyExists,
	)
	return receipt, nil
}

// ProcessNext claims and settles at most one eligible event.
func (s *Service) ProcessNext(ctx context.Context) (core.ProcessReceipt, error) {
	if s == nil || s.worker == nil {
		return core.ProcessReceipt{}, core.MapError(fmt.Errorf("dispatch: worker is required"))
	}
	claimed, err := s.worker.Tick(ctx)
	if err != nil {
		return core.ProcessReceipt{Claimed: claimed}, core.MapError(err)
	}
	return core.ProcessReceipt{Claimed: claimed}, nil
}

// RunWorker drives the polling worker loop until the context is canceled.
// When worker.run_once is set it makes a single claim attempt and returns.
func (s *Service) RunWorker(ctx context.Context) error {
	if s == nil || s.worker == nil {
		return core.MapError(fmt.Errorf("dispatch: worker is required"))
	}
	return s.worker.Run(ctx)
}

func (s *Service) GetEvent(ctx context.Context, id int64) (core.Event, error) {
	if s == nil || s.events == nil {
		return core.Event{}, core.MapError(fmt.Errorf("dispatch: event store is required"))
	}
	event, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return core.Event{}, core.MapError(err)
	}
	return event, nil
}

func (s *Service) ListActionRuns(ctx context.Context, eventRowID int64, limit int) ([]core.ActionRun, error) {
	if s == nil || s.runs == nil {
		return nil, core.MapError(fmt.Errorf("dispatch: action run store is required"))
	}
	runs, err := s.runs.ListRunsForEvent(ctx, eventRowID, limit)
	if err != nil {
		return nil, core.MapError(err)
	}
	return runs, nil
}

// NewIngressServer builds the HTTP ingress surface over the service's stores
// using the resolved ingress configuration.
func (s *Service) NewIngressServer() (*ingress.Server, error) {
	if s == nil || s.events == nil || s.runs == nil {
		return nil, core.MapError(fmt.Errorf("dispatch: service stores are required"))
	}
	return ingress.NewServer(s.events, s.runs, s.config.Ingress, s.logger)
}
