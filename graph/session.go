package graph

import (
	"github.com/rs/zerolog"

	"github.com/timzifer/vfunc/formula"
	"github.com/timzifer/vfunc/telemetry"
)

// Session is the authoring and execution context shared by the graphs of one
// host: the formula engine with its parse cache plus the clipboard. It is not
// safe for concurrent use.
type Session struct {
	engine    *formula.Engine
	logger    zerolog.Logger
	collector telemetry.Collector

	copiedField *Field
	copiedNode  *fragment
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger.With().Str("component", "graph").Logger()
	}
}

// WithTelemetry sets the metrics collector for node outcomes.
func WithTelemetry(collector telemetry.Collector) SessionOption {
	return func(s *Session) {
		if collector != nil {
			s.collector = collector
		}
	}
}

// NewSession returns a session evaluating formulas with engine. A nil engine
// gets a default one with an empty type registry.
func NewSession(engine *formula.Engine, opts ...SessionOption) *Session {
	if engine == nil {
		engine = formula.NewEngine(nil)
	}
	s := &Session{
		engine:    engine,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Session) Engine() *formula.Engine { return s.engine }

func (s *Session) Logger() *zerolog.Logger { return &s.logger }

// ClearCache drops every parsed formula. Every structural edit calls it.
func (s *Session) ClearCache() { s.engine.ClearCache() }

// HasCopiedField reports whether a field is waiting to be pasted.
func (s *Session) HasCopiedField() bool { return s.copiedField != nil }

// HasCopiedNode reports whether a node is waiting to be pasted.
func (s *Session) HasCopiedNode() bool { return s.copiedNode != nil }
