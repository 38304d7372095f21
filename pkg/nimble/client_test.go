package nimble

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key", append([]Option{WithBaseURL(srv.URL), WithRetryConfig(fastRetry())}, opts...)...)
}

const pageJSON = `{
	"resources": [
		{"id": "1", "fields": {"first name": [{"value": "John"}], "email": [{"value": "john@example.com"}]}}
	],
	"meta": {"total": 1, "pages": 1, "page": 1}
}`

func TestListContacts_Success(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		q := r.URL.Query()
		assert.Equal(t, "first name,last name,email,description", q.Get("fields"))
		assert.Equal(t, "person", q.Get("record_type"))
		assert.Equal(t, "1", q.Get("page"))
		assert.False(t, q.Has("query"), "absent query is omitted")
		assert.False(t, q.Has("per_page"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pageJSON))
	})

	page, err := client.ListContacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Resources, 1)
	assert.Equal(t, "1", page.Resources[0].ID)
	first, ok := page.Resources[0].Fields.First(model.FieldFirstName)
	assert.True(t, ok)
	assert.Equal(t, "John", first)
	assert.Equal(t, 1, page.Meta.Pages)
}

func TestListContacts_EmailQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var q map[string]map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("query")), &q))
		assert.Equal(t, map[string]map[string]string{"email": {"is": "jane@example.com"}}, q)
		w.Write([]byte(`{"resources": [], "meta": {}}`))
	})

	page, err := client.ListContacts(context.Background(), ListOptions{Query: EmailQuery("jane@example.com")})
	require.NoError(t, err)
	assert.Empty(t, page.Resources)
}

func TestGetContact_Success(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/5f1a", r.URL.Path)
		w.Write([]byte(`{"resources": [{"id": "5f1a", "fields": {"last name": "Doe"}}], "meta": {}}`))
	})

	c, err := client.GetContact(context.Background(), "5f1a")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "5f1a", c.ID)
	assert.Equal(t, model.Fields{"last name": {"Doe"}}, c.Fields)
}

func TestGetContact_NotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c, err := client.GetContact(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestGetContact_EmptyResources(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resources": [], "meta": {}}`))
	})

	c, err := client.GetContact(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestListContacts_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(pageJSON))
	})

	retried, err := client.ListContacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	direct := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pageJSON))
	})
	immediate, err := direct.ListContacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, immediate, retried)
}

func TestListContacts_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.ListContacts(context.Background(), ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(4), calls.Load())
}

func TestListContacts_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid token"}`))
	})

	_, err := client.ListContacts(context.Background(), ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestListContacts_MalformedBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.ListContacts(context.Background(), ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestListContacts_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithCircuitBreaker(cb))

	_, err := client.ListContacts(context.Background(), ListOptions{})
	require.Error(t, err)
	require.Equal(t, int32(4), calls.Load())

	_, err = client.ListContacts(context.Background(), ListOptions{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(4), calls.Load(), "open circuit short-circuits the request")
}

func TestListContacts_RateLimit(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pageJSON))
	}, WithRateLimit(1000))

	for range 3 {
		_, err := client.ListContacts(context.Background(), ListOptions{})
		require.NoError(t, err)
	}
}
