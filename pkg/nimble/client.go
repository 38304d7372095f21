// Package nimble provides a client for the Nimble CRM contacts API.
package nimble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/resilience"
)

// DefaultBaseURL is the production contacts endpoint.
const DefaultBaseURL = "https://api.nimble.com/api/v1/contacts"

// Client defines the Nimble contact operations.
type Client interface {
	// ListContacts returns one page of contacts matching opts.
	ListContacts(ctx context.Context, opts ListOptions) (*model.ContactPage, error)
	// GetContact fetches a contact by id. A missing contact is (nil, nil).
	GetContact(ctx context.Context, id string) (*model.RemoteContact, error)
}

// Option configures the Nimble client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second across all callers
// sharing the client.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker guards every request with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewClient creates a new Nimble client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("nimble", "request")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ListContacts(ctx context.Context, opts ListOptions) (*model.ContactPage, error) {
	params, err := opts.values()
	if err != nil {
		return nil, err
	}

	body, status, err := c.get(ctx, c.baseURL, params)
	if err != nil {
		return nil, eris.Wrap(err, "nimble: list contacts")
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("nimble: list contacts: unexpected status %d: %s", status, truncate(body))
	}

	var page model.ContactPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, eris.Wrap(err, "nimble: decode contact page")
	}
	return &page, nil
}

func (c *httpClient) GetContact(ctx context.Context, id string) (*model.RemoteContact, error) {
	reqURL := c.baseURL + "/" + url.PathEscape(id)

	body, status, err := c.get(ctx, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "nimble: get contact %s", id)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("nimble: get contact %s: unexpected status %d: %s", id, status, truncate(body))
	}

	var page model.ContactPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, eris.Wrapf(err, "nimble: decode contact %s", id)
	}
	if len(page.Resources) == 0 {
		return nil, nil
	}
	return &page.Resources[0], nil
}

type response struct {
	body   []byte
	status int
}

// get performs a GET with the client's retry policy, circuit breaker and
// rate limiter. Transient statuses are retried; any other status is handed
// back to the caller along with the body.
func (c *httpClient) get(ctx context.Context, reqURL string, params url.Values) ([]byte, int, error) {
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	call := func(ctx context.Context) (response, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (response, error) {
			return c.attempt(ctx, reqURL)
		})
	}

	var (
		resp response
		err  error
	)
	if c.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, c.breaker, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, 0, err
	}
	return resp.body, resp.status, nil
}

func (c *httpClient) attempt(ctx context.Context, reqURL string) (response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, eris.Wrap(err, "rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return response{}, eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, resilience.NewTransientError(eris.Wrap(err, "read response body"), resp.StatusCode)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return response{}, &resilience.TransientError{
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)),
			StatusCode: resp.StatusCode,
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return response{body: body, status: resp.StatusCode}, nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
