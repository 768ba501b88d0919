package locations

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"meldung/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testClient(rt roundTripFunc) *Client {
	c := NewClient(config.Config{
		LocationAPIBaseURL:   "https://backend.example.test/api",
		LocationAPIToken:     "secret",
		LocationRateLimitRPS: 1000,
		LocationTimeoutMs:    1000,
	}, nil)
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func TestClientPaginatesWithRetry(t *testing.T) {
	attempt := 0
	var skips []string
	c := testClient(func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/api/locations/", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		attempt++
		if attempt == 1 {
			return jsonResponse(http.StatusServiceUnavailable, `{"detail":"starting"}`), nil
		}
		skips = append(skips, r.URL.Query().Get("skip"))
		require.Equal(t, "2", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("skip") {
		case "0":
			return jsonResponse(http.StatusOK, `[{"id":1,"name":"Hessental","city":"Schwäbisch Hall","state":"BW","postal_code":"74523"},{"id":2,"name":" Heilbronn ","city":"Heilbronn","state":"BW"}]`), nil
		case "2":
			return jsonResponse(http.StatusOK, `[{"id":3,"name":"Stuttgart Mitte","city":"Stuttgart","state":"BW","address":""}]`), nil
		default:
			t.Fatalf("unexpected skip %s", r.URL.Query().Get("skip"))
			return nil, nil
		}
	})
	c.pageSize = 2

	recs, err := c.ListLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"0", "2"}, skips)
	assert.Equal(t, "Heilbronn", recs[1].Name)
	require.NotNil(t, recs[0].PostalCode)
	assert.Equal(t, "74523", *recs[0].PostalCode)
	assert.Nil(t, recs[2].Address)
}

func TestClientSkipsInvalidRecords(t *testing.T) {
	c := testClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `[{"id":null,"name":"A"},{"id":5,"name":""},{"id":6,"name":"Karlsruhe","city":"Karlsruhe","state":"BW"}]`), nil
	})
	recs, err := c.ListLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 6, recs[0].ID)
}

func TestClientStopsWhenBackendIgnoresSkip(t *testing.T) {
	calls := 0
	c := testClient(func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `[{"id":1,"name":"A","city":"B","state":"C"},{"id":2,"name":"D","city":"E","state":"F"}]`), nil
	})
	c.pageSize = 2
	recs, err := c.ListLocations(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 2, calls)
}

func TestClientNonRetryableStatus(t *testing.T) {
	calls := 0
	c := testClient(func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusUnauthorized, `{"detail":"Not authenticated"}`), nil
	})
	_, err := c.ListLocations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
	assert.Equal(t, 1, calls)
}

func TestClientWithoutTokenSendsNoAuthHeader(t *testing.T) {
	c := testClient(func(r *http.Request) (*http.Response, error) {
		assert.Empty(t, r.Header.Get("Authorization"))
		return jsonResponse(http.StatusOK, `[]`), nil
	})
	c.token = ""
	recs, err := c.ListLocations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestClientLimiterSpacing(t *testing.T) {
	l := newLimiter(20)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	// first call is free, the other two wait 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	assert.Equal(t, rate.Limit(1), newLimiter(0).Limit())
}

func TestClientLimiterHonorsCancel(t *testing.T) {
	c := NewClient(config.Config{LocationAPIBaseURL: "https://backend.example.test/api", LocationRateLimitRPS: 1}, nil)
	calls := 0
	c.httpClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `[]`), nil
	})}
	_, err := c.ListLocations(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ListLocations(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
