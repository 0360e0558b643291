package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/coordinator"
	actmock "github.com/MrWong99/parley/pkg/activation/mock"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/session"
	sessmock "github.com/MrWong99/parley/pkg/session/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newApp builds an App on mocks only, so no audio device or network is
// touched.
func newApp(t *testing.T, cfg *config.Config) (*app.App, *actmock.Controller, *sessmock.Handle) {
	t.Helper()

	ctrl := actmock.NewController()
	handle := sessmock.NewHandle()
	a, err := app.New(cfg, "test-key",
		app.WithLogger(discardLogger()),
		app.WithSource(&audiomock.Source{FramesResult: make(chan audio.AudioFrame, 8)}),
		app.WithSink(&audiomock.Sink{}),
		app.WithController(ctrl),
		app.WithClient(&sessmock.Client{
			ConnectResults: []sessmock.ConnectResult{{Handle: handle}},
		}),
	)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return a, ctrl, handle
}

func TestNewRejectsUnknownActivationPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Activation.Policy = "wave_hands"

	_, err := app.New(cfg, "test-key",
		app.WithLogger(discardLogger()),
		app.WithSource(&audiomock.Source{}),
		app.WithSink(&audiomock.Sink{}),
		app.WithClient(&sessmock.Client{}),
	)
	if err == nil {
		t.Fatal("New() accepted an unknown activation policy")
	}
}

func TestRunStopsWhenConversationEnds(t *testing.T) {
	a, ctrl, _ := newApp(t, config.Default())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	waitForState(t, a, done)
	ctrl.Finish()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on user quit", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the controller finished")
	}
}

func TestRunPropagatesConnectFailure(t *testing.T) {
	cfg := config.Default()
	ctrl := actmock.NewController()
	a, err := app.New(cfg, "",
		app.WithLogger(discardLogger()),
		app.WithSource(&audiomock.Source{FramesResult: make(chan audio.AudioFrame)}),
		app.WithSink(&audiomock.Sink{}),
		app.WithController(ctrl),
		app.WithClient(&sessmock.Client{
			ConnectResults: []sessmock.ConnectResult{{Err: &session.AuthError{Msg: "no API key configured"}}},
		}),
	)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	runErr := a.Run(context.Background())

	var authErr *session.AuthError
	if !errors.As(runErr, &authErr) {
		t.Fatalf("Run() error = %v, want AuthError", runErr)
	}
}

func TestRunServesMetricsEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.ListenAddr = freeAddr(t)
	a, ctrl, _ := newApp(t, cfg)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	defer func() {
		ctrl.Finish()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	}()

	base := "http://" + cfg.Metrics.ListenAddr
	waitForHTTP(t, base+"/healthz")

	for _, path := range []string{"/metrics", "/healthz", "/readyz"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, _, _ := newApp(t, config.Default())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	waitForState(t, a, done)

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v after Shutdown, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

// waitForState waits until the coordinator's run loop is live, or fails the
// test if Run exits first.
func waitForState(t *testing.T, a *app.App, done <-chan error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			t.Fatalf("Run exited early: %v", err)
		default:
		}
		if a.Coordinator().State() == coordinator.StateIdle {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("coordinator did not start")
}

// waitForHTTP polls url until it answers.
func waitForHTTP(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not come up", url)
}

// freeAddr reserves an ephemeral port and returns it for the metrics server.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}
