package platform

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/transfer"
)

const (
	twitterAuthURL = "https://twitter.com/i/oauth2/authorize"
	twitterScopes  = "tweet.read tweet.write users.read offline.access"

	twitterChunkSize         = 1 << 20
	twitterProcessingCeiling = 10 * time.Minute
)

// pkceAlphabet is the RFC 7636 unreserved character set.
const pkceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

func PKCEVerifier() (string, error) {
	return gonanoid.Generate(pkceAlphabet, 64)
}

func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TwitterAdapter speaks the v2 API: PKCE OAuth with Basic client auth at the
// token endpoint, flat JSON tweet bodies, batch public_metrics lookups, and
// the chunked INIT/APPEND/FINALIZE/STATUS media upload protocol.
type TwitterAdapter struct {
	clientID     string
	clientSecret string
	redirectURI  string
	apiBase      string
	uploadBase   string
	client       *http.Client
}

func NewTwitter(cfg config.Config) *TwitterAdapter {
	return &TwitterAdapter{
		clientID:     cfg.TwitterClientID,
		clientSecret: cfg.TwitterClientSecret,
		redirectURI:  cfg.TwitterRedirectURI,
		apiBase:      "https://api.twitter.com",
		uploadBase:   "https://upload.twitter.com",
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *TwitterAdapter) Name() Name { return Twitter }

func (a *TwitterAdapter) AuthURL(state, challenge string) string {
	params := url.Values{}
	params.Add("response_type", "code")
	params.Add("client_id", a.clientID)
	params.Add("redirect_uri", a.redirectURI)
	params.Add("scope", twitterScopes)
	params.Add("state", state)
	params.Add("code_challenge", challenge)
	params.Add("code_challenge_method", "S256")
	return fmt.Sprintf("%s?%s", twitterAuthURL, params.Encode())
}

func (a *TwitterAdapter) token(ctx context.Context, data url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/2/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.clientID, a.clientSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("oauth.token", resp)
	}

	var tokenResponse transfer.TwitterTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &TokenPair{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second),
		Scopes:       tokenResponse.Scope,
	}, nil
}

func (a *TwitterAdapter) ExchangeCode(ctx context.Context, code, verifier string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", a.redirectURI)
	data.Set("code_verifier", verifier)
	data.Set("client_id", a.clientID)
	return a.token(ctx, data)
}

func (a *TwitterAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", a.clientID)
	return a.token(ctx, data)
}

func (a *TwitterAdapter) UserInfo(ctx context.Context, accessToken string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/2/users/me?user.fields=profile_image_url", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("users.me", resp)
	}

	var result transfer.TwitterUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Account{
		ID:        result.Data.ID,
		Name:      result.Data.Name,
		Username:  result.Data.Username,
		AvatarURL: result.Data.ProfileImageURL,
	}, nil
}

func (a *TwitterAdapter) Publish(ctx context.Context, accessToken string, pr *PublishRequest) (*PublishResult, error) {
	body := transfer.TweetCreateRequest{Text: pr.Body}
	if len(pr.MediaIDs) > 0 {
		body.Media = &transfer.TweetMedia{MediaIDs: pr.MediaIDs}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/2/tweets", strings.NewReader(string(jsonData)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, a.apiError("tweets.create", resp)
	}

	var result transfer.TweetCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &PublishResult{
		PostID:      result.Data.ID,
		URL:         fmt.Sprintf("https://twitter.com/i/web/status/%s", result.Data.ID),
		PublishedAt: time.Now(),
	}, nil
}

func (a *TwitterAdapter) Delete(ctx context.Context, accessToken, platformPostID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.apiBase+"/2/tweets/"+platformPostID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a.apiError("tweets.delete", resp)
	}
	return nil
}

func (a *TwitterAdapter) FetchMetrics(ctx context.Context, accessToken, platformPostID string) (*Metrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics", a.apiBase, platformPostID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("tweets.metrics", resp)
	}

	var result transfer.TweetMetricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	m := metricsFromTweet(result.Data.PublicMetrics)
	m.APICalls = 1
	return m, nil
}

// FetchMetricsBatch reads public_metrics for up to 100 tweets per call,
// chunking larger id sets.
func (a *TwitterAdapter) FetchMetricsBatch(ctx context.Context, accessToken string, platformPostIDs []string) (map[string]*Metrics, int, error) {
	caps, _ := CapabilitiesFor(Twitter)
	out := make(map[string]*Metrics, len(platformPostIDs))
	calls := 0

	for start := 0; start < len(platformPostIDs); start += caps.MaxMetricsBatch {
		end := start + caps.MaxMetricsBatch
		if end > len(platformPostIDs) {
			end = len(platformPostIDs)
		}

		params := url.Values{}
		params.Set("ids", strings.Join(platformPostIDs[start:end], ","))
		params.Set("tweet.fields", "public_metrics")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/2/tweets?"+params.Encode(), nil)
		if err != nil {
			return nil, calls, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := a.client.Do(req)
		if err != nil {
			slog.Info(err.Error())
			return nil, calls, err
		}
		calls++

		if resp.StatusCode != http.StatusOK {
			err := a.apiError("tweets.metrics.batch", resp)
			resp.Body.Close()
			return nil, calls, err
		}

		var result transfer.TweetMetricsBatchResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			slog.Info(err.Error())
			return nil, calls, err
		}

		for _, tweet := range result.Data {
			out[tweet.ID] = metricsFromTweet(tweet.PublicMetrics)
		}
	}

	return out, calls, nil
}

func metricsFromTweet(pm transfer.TweetPublicMetrics) *Metrics {
	return &Metrics{
		Impressions: pm.ImpressionCount,
		Likes:       pm.LikeCount,
		Replies:     pm.ReplyCount,
		Reposts:     pm.RetweetCount + pm.QuoteCount,
	}
}

// UploadMedia runs the chunked upload protocol: INIT, base64 APPEND
// segments, FINALIZE, then STATUS polling until the platform finishes
// processing or the ceiling elapses.
func (a *TwitterAdapter) UploadMedia(ctx context.Context, accessToken string, media *Media) (string, error) {
	initData := url.Values{}
	initData.Set("command", "INIT")
	initData.Set("total_bytes", strconv.Itoa(len(media.Data)))
	initData.Set("media_type", media.ContentType)

	initResp, err := a.mediaCommand(ctx, accessToken, initData)
	if err != nil {
		return "", err
	}
	mediaID := initResp.MediaIDString

	for segment := 0; segment*twitterChunkSize < len(media.Data); segment++ {
		start := segment * twitterChunkSize
		end := start + twitterChunkSize
		if end > len(media.Data) {
			end = len(media.Data)
		}

		appendData := url.Values{}
		appendData.Set("command", "APPEND")
		appendData.Set("media_id", mediaID)
		appendData.Set("segment_index", strconv.Itoa(segment))
		appendData.Set("media_data", base64.StdEncoding.EncodeToString(media.Data[start:end]))

		if _, err := a.mediaCommand(ctx, accessToken, appendData); err != nil {
			return "", err
		}
	}

	finalizeData := url.Values{}
	finalizeData.Set("command", "FINALIZE")
	finalizeData.Set("media_id", mediaID)

	finalizeResp, err := a.mediaCommand(ctx, accessToken, finalizeData)
	if err != nil {
		return "", err
	}

	return a.awaitProcessing(ctx, accessToken, mediaID, finalizeResp.ProcessingInfo)
}

func (a *TwitterAdapter) awaitProcessing(ctx context.Context, accessToken, mediaID string, info *transfer.TwitterMediaProcessingInfo) (string, error) {
	deadline := time.Now().Add(twitterProcessingCeiling)

	for info != nil && (info.State == "pending" || info.State == "in_progress") {
		if time.Now().After(deadline) {
			return "", &Error{Platform: Twitter, Op: "media.upload", Detail: fmt.Sprintf("processing did not finish within %s", twitterProcessingCeiling)}
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}

		statusData := url.Values{}
		statusData.Set("command", "STATUS")
		statusData.Set("media_id", mediaID)

		statusResp, err := a.mediaCommand(ctx, accessToken, statusData)
		if err != nil {
			return "", err
		}
		info = statusResp.ProcessingInfo
	}

	if info != nil && info.State == "failed" {
		detail := "media processing failed"
		if info.Error != nil {
			detail = info.Error.Message
		}
		return "", &Error{Platform: Twitter, Op: "media.upload", StatusCode: http.StatusBadRequest, Detail: detail}
	}

	return mediaID, nil
}

func (a *TwitterAdapter) mediaCommand(ctx context.Context, accessToken string, data url.Values) (*transfer.TwitterMediaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.uploadBase+"/1.1/media/upload.json", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, a.apiError("media.upload", resp)
	}

	// STATUS / APPEND can answer 204 with no body.
	if resp.StatusCode == http.StatusNoContent {
		return &transfer.TwitterMediaResponse{}, nil
	}

	var result transfer.TwitterMediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &result, nil
}

func (a *TwitterAdapter) apiError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(resp.Body)

	var parsed transfer.TwitterErrorResponse
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Detail != "" {
			detail = parsed.Detail
		} else if len(parsed.Errors) > 0 && parsed.Errors[0].Message != "" {
			detail = parsed.Errors[0].Message
		}
	}

	return &Error{Platform: Twitter, Op: op, StatusCode: resp.StatusCode, Detail: detail}
}
