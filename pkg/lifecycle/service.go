package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-claims/pkg/lifecycle"

// StateChangeHandler observes transitions. Handlers run synchronously
// under the state lock; they must not call lifecycle methods on the same
// service. A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Hook runs during Start or Stop. A hook error moves the service to
// [StateFailed].
type Hook func(ctx context.Context) error

// Info is a point-in-time snapshot of a service.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Service is a lifecycle-managed process component. Build one with
// [ServiceBuilder].
//
//	svc, err := lifecycle.NewServiceBuilder("claimsapi", version).
//	    WithOnStart(listen).
//	    WithOnStop(shutdown).
//	    Build()
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
}

func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot. Uptime is set only while running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil while running and a CodeDependencyUnavailable error
// otherwise, so that load balancers stop routing to a draining process.
func (s *Service) Health(context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeDependencyUnavailable,
			"lifecycle: %s is not running, current state is %q", s.name, state)
	}
	return nil
}

// SetState moves the service to next, failing with CodeConflict when the
// transition is not allowed.
func (s *Service) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(next),
					)
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start moves the service through Starting to Running, running the
// OnStart hook in between. A canceled context fails fast without a state
// change.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return s.fail(span, sserr.Wrap(err, sserr.CodeDependencyTimeout,
			"lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return s.fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	if s.onStart != nil {
		if err := s.onStart(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return s.fail(span, hookError(err, "lifecycle: start hook failed"))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return s.fail(span, err)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop moves the service through Stopping to Stopped, running the OnStop
// hook in between. Stopping a service in a terminal state is a no-op, so
// Stop is safe in deferred cleanup.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return s.fail(span, sserr.Wrap(err, sserr.CodeDependencyTimeout,
			"lifecycle: stop canceled before execution"))
	}
	if err := s.SetState(StateStopping); err != nil {
		return s.fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	if s.onStop != nil {
		if err := s.onStop(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return s.fail(span, hookError(err, "lifecycle: stop hook failed"))
		}
	}

	if err := s.SetState(StateStopped); err != nil {
		return s.fail(span, err)
	}
	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// hookError keeps the code of classified hook errors.
func hookError(err error, message string) error {
	if _, typed := sserr.AsError(err); typed {
		return err
	}
	return sserr.Wrap(err, sserr.CodeUnhandled, message)
}

// ServiceBuilder configures a [Service].
type ServiceBuilder struct {
	name          string
	version       string
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
}

// NewServiceBuilder starts a builder. name and version are required.
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version}
}

// WithLogger sets the logger. Defaults to slog.Default().
func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

func (b *ServiceBuilder) WithOnStart(hook Hook) *ServiceBuilder {
	b.onStart = hook
	return b
}

func (b *ServiceBuilder) WithOnStop(hook Hook) *ServiceBuilder {
	b.onStop = hook
	return b
}

// OnStateChange adds an observer. Observers run in registration order.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the builder and returns a service in [StateUnknown].
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service version must not be empty")
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       b.onStart,
		onStop:        b.onStop,
		stateHandlers: handlers,
	}, nil
}
