// Package app wires the Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the audio devices, the
// activation controller and the session client from config, Run drives the
// turn coordinator (and the optional metrics endpoint) until the conversation
// ends, and Shutdown tears everything down.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithClient, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/coordinator"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/activation"
	"github.com/MrWong99/parley/pkg/activation/ptt"
	"github.com/MrWong99/parley/pkg/activation/vad"
	"github.com/MrWong99/parley/pkg/audio"
	malgocapture "github.com/MrWong99/parley/pkg/audio/malgo"
	otoplayback "github.com/MrWong99/parley/pkg/audio/oto"
	"github.com/MrWong99/parley/pkg/session"
	"github.com/MrWong99/parley/pkg/session/openai"
)

// metricsShutdownTimeout bounds how long Run waits for the metrics server to
// drain after the conversation ends.
const metricsShutdownTimeout = 5 * time.Second

// App owns the Parley subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	source     audio.Source
	sink       audio.Sink
	controller activation.Controller
	client     session.Client
	coord      *coordinator.Coordinator

	metricsMu  sync.Mutex
	metricsSrv *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of opening the microphone.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects a playback sink instead of opening the output device.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithController injects an activation controller instead of building one
// from the configured policy.
func WithController(c activation.Controller) Option {
	return func(a *App) { a.controller = c }
}

// WithClient injects a session client instead of creating the real one.
func WithClient(c session.Client) Option {
	return func(a *App) { a.client = c }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring the capture source, playback sink, activation
// controller, session client and turn coordinator together. apiKey is the
// remote API credential; it is passed through to the session client, which
// rejects a connect without one.
func New(cfg *config.Config, apiKey string, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.client == nil {
		clientOpts := []openai.Option{openai.WithLogger(a.log)}
		if cfg.API.BaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(cfg.API.BaseURL))
		}
		a.client = openai.New(apiKey, clientOpts...)
	}

	if a.source == nil {
		a.source = malgocapture.NewSource(malgocapture.WithLogger(a.log))
	}

	if a.sink == nil {
		sink, err := otoplayback.NewSink(otoplayback.WithLogger(a.log))
		if err != nil {
			return nil, fmt.Errorf("app: open playback: %w", err)
		}
		a.sink = sink
	}

	if a.controller == nil {
		ctrl, err := a.buildController()
		if err != nil {
			return nil, fmt.Errorf("app: build activation controller: %w", err)
		}
		a.controller = ctrl
	}

	a.coord = coordinator.New(a.source, a.sink, a.controller, a.client,
		coordinator.WithSessionConfig(cfg.API.SessionConfig().WithDefaults()),
		coordinator.WithBackoff(cfg.Reconnect.Backoff()),
		coordinator.WithGreeting(cfg.Greeting),
		coordinator.WithLogger(a.log),
	)
	return a, nil
}

// buildController constructs the activation controller named by the config.
func (a *App) buildController() (activation.Controller, error) {
	switch a.cfg.Activation.Policy {
	case config.PolicyVAD:
		return vad.New(a.cfg.Activation.VAD.DetectorConfig(), vad.WithLogger(a.log))

	case config.PolicyPushToTalk, "":
		cfg := ptt.DefaultConfig()
		if a.cfg.Activation.TalkKey != "" {
			talk, _ := utf8.DecodeRuneInString(a.cfg.Activation.TalkKey)
			cfg.TalkKey = talk
		}
		return ptt.New(cfg, ptt.NewTerminalKeys(a.log), ptt.WithLogger(a.log))

	default:
		return nil, fmt.Errorf("unknown activation policy %q", a.cfg.Activation.Policy)
	}
}

// Coordinator exposes the turn coordinator, mainly for tests and health
// checks.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Run drives the conversation until ctx is cancelled, the user quits, or an
// unrecoverable error occurs. When the config names a metrics listen address,
// Run also serves /metrics, /healthz and /readyz there for the duration of
// the conversation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		srv := a.newMetricsServer(addr)
		a.metricsMu.Lock()
		a.metricsSrv = srv
		a.metricsMu.Unlock()

		g.Go(func() error {
			a.log.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer a.closeMetricsServer()
		return a.coord.Run(ctx)
	})

	return g.Wait()
}

// newMetricsServer builds the HTTP server exposing Prometheus metrics and
// the health probes, with request instrumentation on every route.
func (a *App) newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "conversation", Check: a.checkConversation},
	).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// checkConversation reports readiness: the process is ready while the
// coordinator has not terminated.
func (a *App) checkConversation(context.Context) error {
	if s := a.coord.State(); s == coordinator.StateTerminated {
		return fmt.Errorf("conversation is %s", s)
	}
	return nil
}

// closeMetricsServer drains and closes the metrics listener, if any.
func (a *App) closeMetricsServer() {
	a.metricsMu.Lock()
	srv := a.metricsSrv
	a.metricsSrv = nil
	a.metricsMu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Warn("metrics server shutdown", "error", err)
	}
}

// Shutdown tears the application down: the coordinator releases the audio
// devices and the session, then the metrics listener closes. Safe to call
// multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = a.coord.Close()
			a.closeMetricsServer()
		}()
		select {
		case <-done:
			a.log.Info("shutdown complete")
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded")
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}
