// Package fetch performs the outbound GET requests of the tracing demo.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout = 5 * time.Second
	// ReadTimeout bounds the wait for response headers and, separately,
	// reading the body.
	ReadTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrReadTimeout is returned when the body is not read within ReadTimeout.
	ErrReadTimeout = errors.New("read timed out")
)

// Client issues instrumented GET requests.
type Client struct {
	http        *http.Client
	readTimeout time.Duration
}

type options struct {
	tracerProvider trace.TracerProvider
	propagator     propagation.TextMapPropagator
	base           http.RoundTripper
}

// Option configures a Client.
type Option func(*options)

// WithTracerProvider sets the provider used for client spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithPropagator sets the propagator used to inject trace context into
// outgoing requests.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) { o.propagator = p }
}

// WithTransport replaces the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// NewClient returns a Client with the fixed connect and read timeouts.
func NewClient(opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ReadTimeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		}
	}

	var otelOpts []otelhttp.Option
	if o.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tracerProvider))
	}
	if o.propagator != nil {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(o.propagator))
	}

	return &Client{
		http:        &http.Client{Transport: otelhttp.NewTransport(o.base, otelOpts...)},
		readTimeout: ReadTimeout,
	}
}

// Get fetches url and returns the response body as text.
func (c *Client) Get(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return "", fmt.Errorf("%w %s from %s", ErrUnexpectedStatus, resp.Status, url)
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(c.readTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	timer.Stop()
	if err != nil {
		if timedOut.Load() {
			return "", fmt.Errorf("%w after %s reading %s", ErrReadTimeout, c.readTimeout, url)
		}
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
