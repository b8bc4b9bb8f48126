package faa_http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/metrics"
	"github.com/sony/gobreaker/v2"
)

type Options struct {
	Timeout         time.Duration
	Retries         int
	BreakerFailures int
	BreakerCooldown time.Duration
	// InitialInterval is the first backoff delay; tests shrink it.
	InitialInterval time.Duration
}

type Client struct {
	hc      *http.Client
	opt     Options
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func New(opt Options) *Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	if opt.InitialInterval <= 0 {
		opt.InitialInterval = time.Second
	}
	if opt.BreakerFailures <= 0 {
		opt.BreakerFailures = 5
	}

	threshold := uint32(opt.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "faa-download",
		Timeout: opt.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A missing archive says nothing about the host's health.
			var st *statusError
			if errors.As(err, &st) && st.code == http.StatusNotFound {
				return true
			}
			return err == nil
		},
	})

	return &Client{
		hc:      &http.Client{Transport: tr, Timeout: opt.Timeout},
		opt:     opt,
		breaker: cb,
	}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return "faa " + e.status }

// Download fetches url into dst. Network errors, 429 and 5xx are retried with
// exponential backoff; other statuses fail immediately.
func (c *Client) Download(ctx context.Context, url, dst string) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.download(ctx, url, dst)
	})
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("failed").Inc()
		return &domain.DownloadError{URL: url, Err: err}
	}
	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (c *Client) download(ctx context.Context, url, dst string) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
				}
			}
			return &statusError{code: resp.StatusCode, status: resp.Status}
		}

		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode, status: resp.Status}
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(&statusError{code: resp.StatusCode, status: resp.Status})
		}

		f, err := os.Create(dst)
		if err != nil {
			return backoff.Permanent(err)
		}

		if _, err := io.Copy(f, resp.Body); err != nil {
			_ = f.Close()
			return fmt.Errorf("copy body: %w", err)
		}

		return f.Close()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opt.InitialInterval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithContext(bo, ctx)
	b = backoff.WithMaxRetries(b, uint64(c.opt.Retries))

	return backoff.Retry(op, b)
}

// State reports the breaker state for logs.
func (c *Client) State() string { return c.breaker.State().String() }
