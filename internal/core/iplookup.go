package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/logger"
)

// ErrIPAddress is the single error reported for any failed IP lookup.
var ErrIPAddress = errors.New("failed to get IP address")

// errLookupCancelled marks a query abandoned by its caller. The breaker
// ignores it.
var errLookupCancelled = errors.New("ip lookup cancelled")

// ipEnvelope is the lookup response: {"data":{"user_ip":"..."}}.
type ipEnvelope struct {
	Data *struct {
		UserIP string `json:"user_ip"`
	} `json:"data"`
}

// IPLookup queries the public IP address through a circuit breaker and a
// rate limiter.
type IPLookup struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewIPLookup creates a lookup client from the ip_lookup section.
func NewIPLookup(cfg config.IPLookup) *IPLookup {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := cfg.MinInterval.Std()
	if interval <= 0 {
		interval = time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}

	return &IPLookup{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "ip-lookup",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout.Std(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsExcluded: func(err error) bool {
				return errors.Is(err, errLookupCancelled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warning("%s breaker %s -> %s", name, from, to)
			},
		}),
	}
}

// Lookup returns the public IP address. Every failure is reported as
// ErrIPAddress; the cause is logged.
func (l *IPLookup) Lookup(ctx context.Context) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		logger.Debug("ip lookup rate limit: %v", err)
		return "", ErrIPAddress
	}
	ip, err := l.breaker.Execute(func() (string, error) {
		ip, err := l.query(ctx)
		if err != nil && ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", errLookupCancelled, err)
		}
		return ip, err
	})
	if err != nil {
		logger.Warning("ip lookup failed: %v", err)
		return "", ErrIPAddress
	}
	return ip, nil
}

// BreakerState reports the breaker state for status output.
func (l *IPLookup) BreakerState() string {
	return l.breaker.State().String()
}

func (l *IPLookup) query(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", l.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", l.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return decodeIP(body)
}

func decodeIP(body []byte) (string, error) {
	var env ipEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if env.Data == nil || env.Data.UserIP == "" {
		return "", errors.New("response has no data.user_ip")
	}
	addr, err := netip.ParseAddr(env.Data.UserIP)
	if err != nil {
		return "", fmt.Errorf("invalid user_ip: %w", err)
	}
	return addr.String(), nil
}
