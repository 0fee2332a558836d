// Package probe checks that repository URLs exist, with retries, per-host
// circuit breaking and cached DNS lookups.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/rs/dnscache"
)

var (
	ErrUpstreamDown = errors.New("upstream unavailable")
	ErrCircuitOpen  = errors.New("circuit breaker open")
)

// maxRetryElapsed bounds the total time spent retrying one probe.
const maxRetryElapsed = 2 * time.Minute

// Prober issues GET requests and reports the status code without following
// redirects. The zero value is not usable; call New.
type Prober struct {
	client        *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	tripThreshold int64
	dnsRefresh    time.Duration

	resolver *dnscache.Resolver
	stop     chan struct{}
	stopOnce sync.Once

	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient sets the HTTP client. Its redirect policy is replaced.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) {
		p.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Prober) {
		p.userAgent = ua
	}
}

// WithMaxRetries sets how often a 5xx or 429 answer is retried.
func WithMaxRetries(n int) Option {
	return func(p *Prober) {
		p.maxRetries = n
	}
}

// WithBaseDelay sets the first retry delay.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Prober) {
		p.baseDelay = d
	}
}

// WithTripThreshold sets the consecutive failures that open a host's breaker.
func WithTripThreshold(n int64) Option {
	return func(p *Prober) {
		p.tripThreshold = n
	}
}

// New creates a Prober. Call Close to stop its DNS cache refresher.
func New(opts ...Option) *Prober {
	p := &Prober{
		userAgent:     "pacache/1.0",
		maxRetries:    3,
		baseDelay:     500 * time.Millisecond,
		tripThreshold: 5,
		dnsRefresh:    5 * time.Minute,
		resolver:      &dnscache.Resolver{},
		stop:          make(chan struct{}),
		breakers:      make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = p.defaultClient()
	}
	client := *p.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	p.client = &client

	go p.refreshDNS()

	return p
}

func (p *Prober) defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := p.resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				return nil, fmt.Errorf("failed to dial any resolved IP of %s: %w", host, lastErr)
			},
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func (p *Prober) refreshDNS() {
	ticker := time.NewTicker(p.dnsRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.resolver.Refresh(true)
		case <-p.stop:
			return
		}
	}
}

// Close stops the DNS refresher and releases idle connections.
func (p *Prober) Close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.client.CloseIdleConnections()
	})
	return nil
}

// Probe GETs rawURL and returns the response status. Server errors and rate
// limiting are retried with exponential backoff; when retries run out the
// last status is returned with an error wrapping ErrUpstreamDown. Other
// statuses, redirects included, are returned as is.
func (p *Prober) Probe(ctx context.Context, rawURL string) (int, error) {
	host := hostOf(rawURL)
	breaker := p.breaker(host)

	if !breaker.Ready() {
		return 0, fmt.Errorf("%s: %w", host, ErrCircuitOpen)
	}

	var status int
	err := breaker.Call(func() error {
		var err error
		status, err = p.probeWithRetry(ctx, rawURL)
		return err
	}, 0)
	if errors.Is(err, circuit.ErrBreakerOpen) {
		return 0, fmt.Errorf("%s: %w", host, ErrCircuitOpen)
	}
	return status, err
}

func (p *Prober) probeWithRetry(ctx context.Context, rawURL string) (int, error) {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if p.maxRetries > 0 {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = p.baseDelay
		expBackoff.MaxElapsedTime = maxRetryElapsed
		expBackoff.Reset()
		// WithMaxRetries treats 0 as unlimited, so it is only applied here.
		policy = backoff.WithMaxRetries(expBackoff, uint64(p.maxRetries))
	}

	var status int
	var finalErr error
	op := func() error {
		s, err := p.get(ctx, rawURL)
		if err != nil {
			// Transport errors are not retried.
			finalErr = err
			return nil
		}
		status = s
		if s >= http.StatusInternalServerError || s == http.StatusTooManyRequests {
			return fmt.Errorf("%s returned %d: %w", rawURL, s, ErrUpstreamDown)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return status, err
	}
	if finalErr != nil {
		return 0, finalErr
	}
	return status, nil
}

func (p *Prober) get(ctx context.Context, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", rawURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	return resp.StatusCode, nil
}

// breaker returns or creates the circuit breaker of a host.
func (p *Prober) breaker(host string) *circuit.Breaker {
	p.mu.RLock()
	b, ok := p.breakers[host]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(p.tripThreshold),
	})
	p.breakers[host] = b
	return b
}

// BreakerStates reports "open" or "closed" per probed host.
func (p *Prober) BreakerStates() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make(map[string]string, len(p.breakers))
	for host, b := range p.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
