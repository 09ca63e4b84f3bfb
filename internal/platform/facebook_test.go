package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacebook(serverURL string) *FacebookAdapter {
	a := NewFacebook(testConfig())
	a.apiBase = serverURL
	return a
}

func TestFacebookRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/access_token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fb_exchange_token", q.Get("grant_type"))
		assert.Equal(t, "fb-client", q.Get("client_id"))
		assert.Equal(t, "fb-secret", q.Get("client_secret"))
		assert.Equal(t, "old-long-lived", q.Get("fb_exchange_token"))

		// No expires_in: the adapter assumes the documented 60-day lifetime.
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-long-lived",
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	a := newTestFacebook(server.URL)
	pair, err := a.Refresh(context.Background(), "old-long-lived")
	require.NoError(t, err)
	assert.Equal(t, "new-long-lived", pair.AccessToken)
	assert.Equal(t, pair.AccessToken, pair.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), pair.ExpiresAt, time.Minute)
}

func TestFacebookPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/page-1/feed", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.PostForm.Get("message"))

		json.NewEncoder(w).Encode(map[string]any{"id": "page-1_999"})
	}))
	defer server.Close()

	a := newTestFacebook(server.URL)
	res, err := a.Publish(context.Background(), "token", &PublishRequest{Body: "hello", AccountID: "page-1"})
	require.NoError(t, err)
	assert.Equal(t, "page-1_999", res.PostID)
}

func TestFacebookFetchMetrics(t *testing.T) {
	var calls int

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/page-1_999/insights/post_impressions", func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"values": []map[string]any{{"value": 1200}}}},
		})
	})
	mux.HandleFunc("/page-1_999/insights/post_impressions_unique", func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"values": []map[string]any{{"value": 800}}}},
		})
	})
	mux.HandleFunc("/page-1_999", func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("fields") {
		case "reactions.summary(total_count)":
			json.NewEncoder(w).Encode(map[string]any{
				"reactions": map[string]any{"summary": map[string]any{"total_count": 45}},
			})
		case "comments.summary(total_count)":
			json.NewEncoder(w).Encode(map[string]any{
				"comments": map[string]any{"summary": map[string]any{"total_count": 7}},
			})
		case "shares":
			json.NewEncoder(w).Encode(map[string]any{
				"shares": map[string]any{"count": 3},
			})
		default:
			t.Errorf("unexpected fields query %q", r.URL.Query().Get("fields"))
		}
	})

	a := newTestFacebook(server.URL)
	m, err := a.FetchMetrics(context.Background(), "token", "page-1_999")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), m.Impressions)
	assert.Equal(t, int64(45), m.Likes)
	assert.Equal(t, int64(7), m.Replies)
	assert.Equal(t, int64(3), m.Reposts)
	require.NotNil(t, m.UniqueReach)
	assert.Equal(t, int64(800), *m.UniqueReach)
	assert.Equal(t, 5, m.APICalls)
	assert.Equal(t, 5, calls)
}

func TestFacebookScopeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "(#10) requires read_insights permission",
				"type":    "OAuthException",
				"code":    10,
			},
		})
	}))
	defer server.Close()

	a := newTestFacebook(server.URL)
	_, err := a.FetchMetrics(context.Background(), "token", "page-1_999")
	require.Error(t, err)
	assert.True(t, IsInsufficientScope(err))
	assert.True(t, IsBusinessRejection(err))
}

func TestFacebookGenericErrorIsNotScope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "Unsupported get request",
				"type":    "GraphMethodException",
				"code":    100,
			},
		})
	}))
	defer server.Close()

	a := newTestFacebook(server.URL)
	_, err := a.FetchMetrics(context.Background(), "token", "nope")
	require.Error(t, err)
	assert.False(t, IsInsufficientScope(err))
	assert.True(t, IsBusinessRejection(err))
	assert.Contains(t, err.Error(), "Unsupported get request")
}

func TestFacebookFetchFollowerStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "followers_count", r.URL.Query().Get("fields"))
		json.NewEncoder(w).Encode(map[string]any{"id": "page-1", "followers_count": 5120})
	}))
	defer server.Close()

	a := newTestFacebook(server.URL)
	n, err := a.FetchFollowerStats(context.Background(), "token", "page-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5120), n)
}
