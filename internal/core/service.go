// Package core hosts the dispatcher service: it resolves commands through
// the rule engine one at a time against the configured entity store and
// wraps every execution with logging, metrics, tracing, auditing and
// transcript archiving.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rpgkernel/internal/blob"
	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
)

// Service dispatches commands. Executions are serialised so rule chains of
// different commands never interleave their entity writes.
type Service struct {
	engine  *domain.RulesEngine
	store   domain.EntityStore
	archive blob.Store
	roller  dice.Roller
	timeout time.Duration

	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder

	execMu   sync.Mutex
	mu       sync.RWMutex
	plugins  map[string]PluginMetadata
	commands map[domain.CommandKind]CommandFactory
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source for execution start and audit times.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithArchive enables transcript archiving to store.
func WithArchive(store blob.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithDice sets the roller offered to rules. It must be safe for concurrent
// use.
func WithDice(r dice.Roller) Option {
	return func(s *Service) { s.roller = r }
}

// WithCommandTimeout bounds every execution. Zero disables the bound.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// NewService constructs a service over engine and store. A nil engine gets
// an empty one and a nil store an in-memory one.
func NewService(engine *domain.RulesEngine, store domain.EntityStore, opts ...Option) *Service {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	if store == nil {
		store = memory.NewStore()
	}
	s := &Service{
		engine:   engine,
		store:    store,
		logger:   noopLogger{},
		clock:    systemClock{},
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		audit:    noopAudit{},
		plugins:  make(map[string]PluginMetadata),
		commands: make(map[domain.CommandKind]CommandFactory),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service with a fresh in-memory store.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	return NewService(engine, memory.NewStore(), opts...)
}

// Engine returns the rule engine.
func (s *Service) Engine() *domain.RulesEngine { return s.engine }

// Store returns the entity store.
func (s *Service) Store() domain.EntityStore { return s.store }

// Archive returns the transcript store, or nil when archiving is off.
func (s *Service) Archive() blob.Store { return s.archive }

// CanExecute evaluates the command's preconditions without side effects.
func (s *Service) CanExecute(ctx context.Context, cmd domain.Command) (ok bool) {
	if cmd == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("precondition check panicked", "command", cmd.Kind(), "panic", r)
			ok = false
		}
	}()
	return cmd.CanExecute(ctx, s.store)
}

// Plan resolves and checks the rule chain of cmd without running it.
func (s *Service) Plan(cmd domain.Command) (domain.Plan, error) {
	return s.engine.Plan(cmd)
}

// Execute resolves cmd and returns the folded result.
func (s *Service) Execute(ctx context.Context, cmd domain.Command) (domain.Result, error) {
	res, err := s.Resolve(ctx, cmd)
	return res.Result, err
}

// Resolve executes cmd and returns the full resolution. Only configuration
// defects are returned as errors; every other failure is in the Result.
func (s *Service) Resolve(ctx context.Context, cmd domain.Command) (domain.Resolution, error) {
	if cmd == nil {
		return domain.Resolution{}, &domain.ConfigError{Kind: domain.ConfigInvalidCommand, Detail: "command is nil"}
	}
	op := "execute_" + string(cmd.Kind())

	s.execMu.Lock()
	defer s.execMu.Unlock()

	ctx, span := s.tracer.Start(ctx, op)
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	rolls := dice.NewRecorder(s.roller)
	started := time.Now()
	res, err := s.engine.Resolve(runCtx, cmd, domain.Env{Store: s.store, Dice: rolls, Now: s.clock.Now()})
	duration := time.Since(started)
	for _, outcome := range res.Report.Outcomes {
		s.logRuleOutcome(res.ExecutionID, cmd, outcome)
	}

	failure := executionError(res, err)
	s.metrics.Observe(ctx, op, failure == nil, duration)
	span.End(failure)
	s.recordAudit(ctx, op, cmd, res, err, duration)

	if err != nil {
		s.logger.Error("command configuration error", "command", cmd.Kind(), "actor", cmd.ActorID(), "error", err)
		return res, err
	}
	s.logger.Info("command resolved",
		"command", cmd.Kind(),
		"execution_id", res.ExecutionID,
		"actor", cmd.ActorID(),
		"success", res.Result.Success,
		"code", res.Result.Code,
		"duration", duration,
	)
	s.archiveTranscript(context.WithoutCancel(ctx), res, rolls.Rolls())
	return res, nil
}

// Dispatch builds the command described by req with the factory a plugin
// registered for its kind and resolves it. Validation failures are returned
// as *domain.ValidationError.
func (s *Service) Dispatch(ctx context.Context, req CommandRequest) (domain.Resolution, error) {
	cmd, err := s.BuildCommand(req)
	if err != nil {
		return domain.Resolution{}, err
	}
	return s.Resolve(ctx, cmd)
}

// BuildCommand validates req and returns the command without executing it.
func (s *Service) BuildCommand(req CommandRequest) (domain.Command, error) {
	s.mu.RLock()
	factory, ok := s.commands[req.Kind]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no command registered for kind %q", req.Kind)
	}
	return factory(req)
}

// Commands lists the command kinds installed plugins can build.
func (s *Service) Commands() []domain.CommandKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CommandKind, 0, len(s.commands))
	for kind := range s.commands {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InstallPlugin registers a plugin, wiring its rules into the engine and its
// command factories into Dispatch.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}
	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, fmt.Errorf("register plugin %s: %w", plugin.Name(), err)
	}
	kinds := registry.Commands()
	for _, kind := range kinds {
		if _, taken := s.commands[kind]; taken {
			return PluginMetadata{}, fmt.Errorf("plugin %s: command %s already provided", plugin.Name(), kind)
		}
	}
	rules := registry.Rules()
	if err := s.engine.RegisterAll(rules...); err != nil {
		return PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
	}
	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name())
	}
	for _, kind := range kinds {
		s.commands[kind] = registry.commands[kind]
	}
	meta := PluginMetadata{
		Name:     plugin.Name(),
		Version:  plugin.Version(),
		Rules:    names,
		Commands: kinds,
		Schemas:  registry.Schemas(),
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", "plugin", meta.Name, "version", meta.Version, "rules", len(names))
	return meta, nil
}

// RegisteredPlugins returns installed plugin metadata sorted by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) logRuleOutcome(executionID string, cmd domain.Command, outcome domain.RuleOutcome) {
	args := []any{
		"execution_id", executionID,
		"command", cmd.Kind(),
		"rule", outcome.Rule,
		"applied", outcome.Applied,
	}
	if outcome.Skipped != "" {
		args = append(args, "skipped", outcome.Skipped)
	}
	if outcome.Failed() {
		s.logger.Warn("rule failed", append(args, "code", outcome.Result.Code, "message", outcome.Result.Message)...)
		return
	}
	s.logger.Debug("rule outcome", args...)
}

func (s *Service) recordAudit(ctx context.Context, op string, cmd domain.Command, res domain.Resolution, err error, duration time.Duration) {
	entry := AuditEntry{
		Operation:   op,
		Status:      AuditStatusSuccess,
		Command:     string(cmd.Kind()),
		ActorID:     cmd.ActorID(),
		TargetIDs:   cmd.TargetIDs(),
		ExecutionID: res.ExecutionID,
		Code:        res.Result.Code,
		Duration:    duration,
		Timestamp:   s.clock.Now(),
	}
	if failure := executionError(res, err); failure != nil {
		entry.Status = AuditStatusError
		entry.Error = failure.Error()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) archiveTranscript(ctx context.Context, res domain.Resolution, rolls []dice.Result) {
	if s.archive == nil || res.ExecutionID == "" {
		return
	}
	info, err := WriteTranscript(ctx, s.archive, Transcript{Resolution: res, Rolls: rolls, RecordedAt: s.clock.Now()})
	if err != nil {
		s.logger.Warn("transcript archive failed", "execution_id", res.ExecutionID, "error", err)
		return
	}
	s.logger.Debug("transcript archived", "execution_id", res.ExecutionID, "key", info.Key, "bytes", info.Size)
}

// executionError maps a resolution onto the error reported to tracers and
// audit sinks: the configuration error, or the failed result.
func executionError(res domain.Resolution, err error) error {
	if err != nil {
		return err
	}
	if res.Result.Success {
		return nil
	}
	if res.Result.Code == "" {
		return errors.New(res.Result.Message)
	}
	return fmt.Errorf("%s: %s", res.Result.Code, res.Result.Message)
}
