package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree supervises the long-running parts of the server: the update loop and
// the HTTP listeners. A crash in one is restarted without touching the other.
type Tree struct {
	root *suture.Supervisor
	log  *zap.Logger
}

func NewTree(l *zap.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	root := suture.New("aerotiles", suture.Spec{
		EventHook:        eventHook(l),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
	return &Tree{root: root, log: l}
}

func (t *Tree) Add(svc suture.Service) suture.ServiceToken { return t.root.Add(svc) }

// Serve blocks until ctx is done or the tree gives up.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func eventHook(l *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			l.Error("service failed", zap.String("event", e.String()))
		case suture.EventTypeBackoff:
			l.Warn("supervisor backing off", zap.String("event", e.String()))
		default:
			l.Info("supervisor event", zap.String("event", e.String()))
		}
	}
}

// Loop adapts a blocking func(ctx) to a suture service.
type Loop struct {
	name string
	run  func(ctx context.Context)
}

func NewLoop(name string, run func(ctx context.Context)) *Loop {
	return &Loop{name: name, run: run}
}

func (l *Loop) Serve(ctx context.Context) error {
	l.run(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	return suture.ErrDoNotRestart
}

func (l *Loop) String() string { return l.name }
