// Package httpclient performs the HTTP exchanges behind every endpoint, one
// at a time or as a multiplexed batch.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"restbridge/config"
	ratemetrics "restbridge/internal/metrics/rate"
	"restbridge/internal/template"
	"restbridge/logger"
)

// Options configures a Client.
type Options struct {
	Headers           map[string]string
	UserAgent         string
	SslVerify         bool
	Timeout           time.Duration
	LocalIP           string
	RequestsPerSecond float64
	Burst             int
	MaxParallel       int
	Pool              config.ConnectionPoolConfig
}

// OptionsFromConfig collects client options from the adapter configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Headers:           cfg.Headers,
		UserAgent:         fmt.Sprintf("%s/%s", cfg.Adapter.Name, cfg.Adapter.Version),
		SslVerify:         cfg.Base.SslVerify,
		Timeout:           cfg.Base.Timeout,
		LocalIP:           cfg.Base.LocalIP,
		RequestsPerSecond: cfg.Base.RequestsPerSecond,
		Burst:             cfg.Base.Burst,
		MaxParallel:       cfg.Base.MaxParallel,
		Pool:              cfg.Base.ConnectionPool,
	}
}

// Response is a completed exchange. Any HTTP status is a response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
	Request  template.Request
}

// TransportError wraps network, TLS and timeout failures.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is safe for concurrent use.
type Client struct {
	http        *http.Client
	transport   *http.Transport
	limiter     *rate.Limiter
	maxParallel int
	log         *logger.Log
}

func New(opts Options) *Client {
	log := logger.GetLogger()

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        opts.Pool.MaxIdleConns,
		MaxIdleConnsPerHost: opts.Pool.MaxIdleConns,
		MaxConnsPerHost:     opts.Pool.MaxConnsPerHost,
		IdleConnTimeout:     opts.Pool.IdleConnTimeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !opts.SslVerify},
	}

	if opts.LocalIP != "" {
		if ip := net.ParseIP(opts.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		} else {
			log.WithComponent("http_client").WithFields(logger.Fields{"local_ip": opts.LocalIP}).Warn("ignoring unparsable local ip")
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	c := &Client{
		http: &http.Client{
			Transport: headerTransport{agent: opts.UserAgent, headers: opts.Headers, base: transport},
			Timeout:   opts.Timeout,
		},
		transport:   transport,
		limiter:     rate.NewLimiter(limit, burst),
		maxParallel: maxParallel,
		log:         log,
	}

	log.WithComponent("http_client").WithFields(logger.Fields{
		"max_idle_conns":     opts.Pool.MaxIdleConns,
		"max_conns_per_host": opts.Pool.MaxConnsPerHost,
		"timeout":            opts.Timeout,
		"ssl_verify":         opts.SslVerify,
		"rps":                opts.RequestsPerSecond,
	}).Info("http client initialized")

	return c
}

// Perform sends one request and reads the whole response body.
func (c *Client) Perform(ctx context.Context, req template.Request) (*Response, error) {
	log := c.log.WithComponent("http_client").WithFields(logger.Fields{
		"method": req.Method,
		"url":    req.URL,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}

	var body io.Reader
	if req.Payload != "" {
		body = strings.NewReader(req.Payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	duration := time.Since(start)

	logger.LogPerformanceEntry(log, "http_client", "api_request", duration, logger.Fields{
		"status": resp.StatusCode,
		"bytes":  buf.Len(),
	})
	ratemetrics.ReportLimitFromStatus(c.log, resp.StatusCode, req.URL)

	return &Response{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     buf.Bytes(),
		Duration: duration,
		Request:  req,
	}, nil
}

// CloseIdle releases pooled connections.
func (c *Client) CloseIdle() {
	c.transport.CloseIdleConnections()
}

// ServerTime reads the Date header of a successful response. It returns the
// zero time when the header is missing or the status is not 200.
func ServerTime(resp *Response) time.Time {
	if resp == nil || resp.Status != http.StatusOK {
		return time.Time{}
	}
	t, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
