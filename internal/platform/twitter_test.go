package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/postloom/postloom/configs"
)

func testConfig() config.Config {
	return config.Config{
		TwitterClientID:      "tw-client",
		TwitterClientSecret:  "tw-secret",
		TwitterRedirectURI:   "https://example.com/auth/twitter/callback",
		LinkedinClientID:     "li-client",
		LinkedinClientSecret: "li-secret",
		LinkedinRedirectURI:  "https://example.com/auth/linkedin/callback",
		FacebookClientID:     "fb-client",
		FacebookClientSecret: "fb-secret",
		FacebookRedirectURI:  "https://example.com/auth/facebook/callback",
	}
}

func newTestTwitter(serverURL string) *TwitterAdapter {
	a := NewTwitter(testConfig())
	a.apiBase = serverURL
	a.uploadBase = serverURL
	return a
}

func TestPKCEChallenge(t *testing.T) {
	// RFC 7636 appendix B vector.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", PKCEChallenge(verifier))
}

func TestPKCEVerifierAlphabet(t *testing.T) {
	verifier, err := PKCEVerifier()
	require.NoError(t, err)
	assert.Len(t, verifier, 64)
	for _, r := range verifier {
		assert.Contains(t, pkceAlphabet, string(r))
	}
}

func TestTwitterAuthURL(t *testing.T) {
	a := NewTwitter(testConfig())
	authURL := a.AuthURL("some-state", "some-challenge")

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "tw-client", q.Get("client_id"))
	assert.Equal(t, "some-state", q.Get("state"))
	assert.Equal(t, "some-challenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
}

func TestTwitterExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/oauth2/token", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "tw-client", user)
		assert.Equal(t, "tw-secret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    7200,
			"scope":         "tweet.read tweet.write",
		})
	}))
	defer server.Close()

	a := newTestTwitter(server.URL)
	pair, err := a.ExchangeCode(context.Background(), "the-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, "at", pair.AccessToken)
	assert.Equal(t, "rt", pair.RefreshToken)
	assert.Equal(t, "tweet.read tweet.write", pair.Scopes)
}

func TestTwitterPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/tweets", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello world", body["text"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "12345", "text": "hello world"},
		})
	}))
	defer server.Close()

	a := newTestTwitter(server.URL)
	res, err := a.Publish(context.Background(), "token", &PublishRequest{Body: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "12345", res.PostID)
	assert.Equal(t, "https://twitter.com/i/web/status/12345", res.URL)
}

func TestTwitterPublishRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"detail": "You are not permitted to create this Tweet"})
	}))
	defer server.Close()

	a := newTestTwitter(server.URL)
	_, err := a.Publish(context.Background(), "token", &PublishRequest{Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsBusinessRejection(err))
	assert.Contains(t, err.Error(), "not permitted")
}

func TestTwitterFetchMetricsBatch(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/2/tweets", r.URL.Path)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		assert.Equal(t, []string{"1", "2", "3"}, ids)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "1", "public_metrics": map[string]int64{"impression_count": 100, "like_count": 5, "retweet_count": 2, "quote_count": 1}},
				{"id": "3", "public_metrics": map[string]int64{"impression_count": 50}},
			},
		})
	}))
	defer server.Close()

	a := newTestTwitter(server.URL)
	out, apiCalls, err := a.FetchMetricsBatch(context.Background(), "token", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, apiCalls)

	require.Contains(t, out, "1")
	assert.Equal(t, int64(100), out["1"].Impressions)
	assert.Equal(t, int64(3), out["1"].Reposts)

	// Tweet 2 was omitted by the platform, deleted or hidden.
	assert.NotContains(t, out, "2")
	assert.Contains(t, out, "3")
}

func TestTwitterUploadMedia(t *testing.T) {
	var commands []string
	var uploaded []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1.1/media/upload.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		command := r.PostForm.Get("command")
		commands = append(commands, command)

		switch command {
		case "INIT":
			json.NewEncoder(w).Encode(map[string]any{"media_id_string": "m-1"})
		case "APPEND":
			assert.Equal(t, "m-1", r.PostForm.Get("media_id"))
			chunk, err := base64.StdEncoding.DecodeString(r.PostForm.Get("media_data"))
			require.NoError(t, err)
			uploaded = append(uploaded, chunk...)
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			json.NewEncoder(w).Encode(map[string]any{
				"media_id_string": "m-1",
				"processing_info": map[string]any{"state": "pending", "check_after_secs": 0},
			})
		case "STATUS":
			json.NewEncoder(w).Encode(map[string]any{
				"media_id_string": "m-1",
				"processing_info": map[string]any{"state": "succeeded"},
			})
		default:
			t.Fatalf("unexpected command %q", command)
		}
	}))
	defer server.Close()

	data := []byte("fake image bytes")
	a := newTestTwitter(server.URL)
	mediaID, err := a.UploadMedia(context.Background(), "token", &Media{Data: data, ContentType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", mediaID)
	assert.Equal(t, []string{"INIT", "APPEND", "FINALIZE", "STATUS"}, commands)
	assert.Equal(t, data, uploaded)
}

func TestTwitterUploadMediaProcessingFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("command") {
		case "INIT":
			json.NewEncoder(w).Encode(map[string]any{"media_id_string": "m-2"})
		case "APPEND":
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			json.NewEncoder(w).Encode(map[string]any{
				"media_id_string": "m-2",
				"processing_info": map[string]any{
					"state": "failed",
					"error": map[string]any{"message": "InvalidMedia"},
				},
			})
		}
	}))
	defer server.Close()

	a := newTestTwitter(server.URL)
	_, err := a.UploadMedia(context.Background(), "token", &Media{Data: []byte("x"), ContentType: "video/mp4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidMedia")
}

func TestTwitterDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/2/tweets/987", r.URL.Path)
		fmt.Fprint(w, `{"data":{"deleted":true}}`)
	}))
	defer server.Close()

	a := newTestTwitter(server.URL)
	assert.NoError(t, a.Delete(context.Background(), "token", "987"))
}
