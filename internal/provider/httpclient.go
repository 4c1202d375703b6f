package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// CallTimeout bounds every outbound provider call.
const CallTimeout = 10 * time.Second

// NewHTTPClient returns the client adapters use for provider APIs: bounded
// timeout plus a circuit breaker per adapter, so a melting provider fails
// fast into the pipeline's degradation path instead of holding goroutines.
func NewHTTPClient(name string) *http.Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 5 && c.TotalFailures*2 >= c.Requests
		},
	})
	return &http.Client{
		Timeout:   CallTimeout,
		Transport: &breakerTransport{cb: cb, next: http.DefaultTransport},
	}
}

type breakerTransport struct {
	cb   *gobreaker.CircuitBreaker
	next http.RoundTripper
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.cb.Execute(func() (any, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			// Count provider-side errors against the breaker but still
			// hand the response back to the caller.
			return resp, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if resp, ok := res.(*http.Response); ok {
		return resp, nil
	}
	return nil, err
}
