package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BindError is a listener that could not be opened, typically because the
// address is already in use. It is fatal for the process.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }

func (e *BindError) Unwrap() error { return e.Err }

// HTTPService runs an http.Handler as a supervised service. Listen binds
// ahead of Serve so bind failures surface before the tree starts.
type HTTPService struct {
	name            string
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	log             *zap.Logger

	mu    sync.Mutex
	ln    net.Listener
	bound string
}

func NewHTTPService(l *zap.Logger, name, addr string, h http.Handler, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		name: name, addr: addr, handler: h,
		shutdownTimeout: shutdownTimeout,
		log:             l,
	}
}

func (h *HTTPService) Listen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return &BindError{Addr: h.addr, Err: err}
	}
	h.ln = ln
	h.bound = ln.Addr().String()
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (h *HTTPService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound != "" {
		return h.bound
	}
	return h.addr
}

func (h *HTTPService) Serve(ctx context.Context) error {
	if err := h.Listen(); err != nil {
		return err
	}
	h.mu.Lock()
	ln := h.ln
	h.ln = nil
	h.mu.Unlock()

	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	h.log.Info("listening", zap.String("service", h.name), zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s failed: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return h.name }
