package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbondelay/internal/types"
)

func newTestIPInfoClient(t *testing.T, handler http.HandlerFunc, token string) *IPInfoClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(server.Client(), "ipinfo-test",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"carbon-delay-Test/1.0", WithSleepFunc(noSleep))
	return NewIPInfoClientWithBase(base, IPInfoClientConfig{
		Token:   token,
		BaseURL: server.URL,
		Logger:  testLogger(),
	})
}

func TestIPInfoClient_ResolveLocation(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestIPInfoClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","city":"Ashburn","region":"Virginia","country":"US","loc":"39.04,-77.49"}`))
	}, "tok")

	loc, err := client.ResolveLocation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/json", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, types.Location{IP: "203.0.113.7", City: "Ashburn", State: "Virginia", Country: "US"}, loc)
}

func TestIPInfoClient_NoTokenSendsNoAuthorization(t *testing.T) {
	var gotAuth string
	client := newTestIPInfoClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"region":"Oregon","country":"US"}`))
	}, "")

	_, err := client.ResolveLocation(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestIPInfoClient_MissingRegionIsResolutionFailure(t *testing.T) {
	client := newTestIPInfoClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"198.51.100.1","country":"AQ"}`))
	}, "")

	_, err := client.ResolveLocation(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeResolutionNoRegion, types.CodeOf(err))
	assert.True(t, types.CodeOf(err).IsResolution())
}

func TestIPInfoClient_ErrorStatus(t *testing.T) {
	client := newTestIPInfoClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}, "bad")

	_, err := client.ResolveLocation(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamLocation, types.CodeOf(err))
}

func TestIPInfoClient_ServerDown(t *testing.T) {
	client := newTestIPInfoClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, "")

	_, err := client.ResolveLocation(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamLocation, types.CodeOf(err))
	assert.True(t, types.CodeOf(err).IsProvider())
}

func TestIPInfoClient_MalformedBody(t *testing.T) {
	client := newTestIPInfoClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}, "")

	_, err := client.ResolveLocation(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamMalformedResponse, types.CodeOf(err))
}
