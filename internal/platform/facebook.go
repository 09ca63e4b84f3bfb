package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/transfer"
)

const (
	facebookAuthURL = "https://www.facebook.com/v19.0/dialog/oauth"
	facebookScopes  = "pages_manage_posts,pages_read_engagement,read_insights"
)

// FacebookAdapter speaks the Graph API. There is no refresh token; the
// stored refresh slot carries the current long-lived token, which gets
// re-exchanged via fb_exchange_token. Metrics need one call per dimension,
// merged client-side, and permission failures are distinguishable from
// generic errors via OAuthException codes.
type FacebookAdapter struct {
	clientID     string
	clientSecret string
	redirectURI  string
	apiBase      string
	client       *http.Client
}

func NewFacebook(cfg config.Config) *FacebookAdapter {
	return &FacebookAdapter{
		clientID:     cfg.FacebookClientID,
		clientSecret: cfg.FacebookClientSecret,
		redirectURI:  cfg.FacebookRedirectURI,
		apiBase:      "https://graph.facebook.com/v19.0",
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *FacebookAdapter) Name() Name { return Facebook }

func (a *FacebookAdapter) AuthURL(state, _ string) string {
	params := url.Values{}
	params.Add("client_id", a.clientID)
	params.Add("redirect_uri", a.redirectURI)
	params.Add("response_type", "code")
	params.Add("scope", facebookScopes)
	params.Add("state", state)
	return fmt.Sprintf("%s?%s", facebookAuthURL, params.Encode())
}

func (a *FacebookAdapter) token(ctx context.Context, params url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/oauth/access_token?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("oauth.token", resp)
	}

	var tokenResponse transfer.FacebookTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	expiresIn := tokenResponse.ExpiresIn
	if expiresIn == 0 {
		// Long-lived tokens sometimes come back without expires_in; the
		// documented lifetime is about 60 days.
		expiresIn = int((60 * 24 * time.Hour).Seconds())
	}

	return &TokenPair{
		AccessToken: tokenResponse.AccessToken,
		// The long-lived token doubles as the refresh credential.
		RefreshToken: tokenResponse.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		Scopes:       facebookScopes,
	}, nil
}

func (a *FacebookAdapter) ExchangeCode(ctx context.Context, code, _ string) (*TokenPair, error) {
	params := url.Values{}
	params.Set("client_id", a.clientID)
	params.Set("client_secret", a.clientSecret)
	params.Set("redirect_uri", a.redirectURI)
	params.Set("code", code)
	return a.token(ctx, params)
}

func (a *FacebookAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", a.clientID)
	params.Set("client_secret", a.clientSecret)
	params.Set("fb_exchange_token", refreshToken)
	return a.token(ctx, params)
}

func (a *FacebookAdapter) UserInfo(ctx context.Context, accessToken string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/me?fields=id,name,picture", nil)
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
		return nil, a.apiError("me", resp)
	}

	var result transfer.FacebookUser
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Account{
		ID:        result.ID,
		Name:      result.Name,
		Username:  result.Name,
		AvatarURL: result.Picture.Data.URL,
	}, nil
}

func (a *FacebookAdapter) Publish(ctx context.Context, accessToken string, pr *PublishRequest) (*PublishResult, error) {
	data := url.Values{}
	data.Set("message", pr.Body)
	if len(pr.MediaURLs) > 0 {
		data.Set("link", pr.MediaURLs[0])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/feed", a.apiBase, pr.AccountID), strings.NewReader(data.Encode()))
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

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("feed.publish", resp)
	}

	var result transfer.FacebookPublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &PublishResult{
		PostID:      result.ID,
		URL:         fmt.Sprintf("https://www.facebook.com/%s", result.ID),
		PublishedAt: time.Now(),
	}, nil
}

func (a *FacebookAdapter) Delete(ctx context.Context, accessToken, platformPostID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/%s", a.apiBase, platformPostID), nil)
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
		return a.apiError("post.delete", resp)
	}
	return nil
}

// FetchMetrics merges one call per dimension into a single snapshot:
// impressions, unique reach, then reactions, comments and shares.
func (a *FacebookAdapter) FetchMetrics(ctx context.Context, accessToken, platformPostID string) (*Metrics, error) {
	impressions, err := a.insight(ctx, accessToken, platformPostID, "post_impressions")
	if err != nil {
		return nil, err
	}

	uniqueReach, err := a.insight(ctx, accessToken, platformPostID, "post_impressions_unique")
	if err != nil {
		return nil, err
	}

	reactions, err := a.summaryCount(ctx, accessToken, platformPostID, "reactions")
	if err != nil {
		return nil, err
	}

	comments, err := a.summaryCount(ctx, accessToken, platformPostID, "comments")
	if err != nil {
		return nil, err
	}

	shares, err := a.shareCount(ctx, accessToken, platformPostID)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Impressions: impressions,
		Likes:       reactions,
		Replies:     comments,
		Reposts:     shares,
		UniqueReach: &uniqueReach,
		APICalls:    5,
	}, nil
}

func (a *FacebookAdapter) FetchFollowerStats(ctx context.Context, accessToken, accountID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=followers_count", a.apiBase, accountID), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, a.apiError("followers", resp)
	}

	var result transfer.FacebookPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return result.FollowersCount, nil
}

func (a *FacebookAdapter) insight(ctx context.Context, accessToken, postID, metric string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/insights/%s?period=lifetime", a.apiBase, postID, metric), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, a.apiError("insights."+metric, resp)
	}

	var result transfer.FacebookInsightsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	if len(result.Data) == 0 || len(result.Data[0].Values) == 0 {
		return 0, nil
	}
	return result.Data[0].Values[0].Value, nil
}

func (a *FacebookAdapter) summaryCount(ctx context.Context, accessToken, postID, edge string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=%s.summary(total_count)", a.apiBase, postID, edge), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, a.apiError("fields."+edge, resp)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	raw, ok := payload[edge]
	if !ok {
		return 0, nil
	}

	var counted transfer.FacebookCountedEdge
	if err := json.Unmarshal(raw, &counted); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return counted.Summary.TotalCount, nil
}

func (a *FacebookAdapter) shareCount(ctx context.Context, accessToken, postID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?fields=shares", a.apiBase, postID), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, a.apiError("fields.shares", resp)
	}

	var result struct {
		Shares transfer.FacebookShares `json:"shares"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return result.Shares.Count, nil
}

func (a *FacebookAdapter) apiError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(resp.Body)

	var parsed transfer.FacebookErrorResponse
	detail := strings.TrimSpace(string(body))
	var wrapped error
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		detail = parsed.Error.Message
		if isScopeError(parsed.Error) {
			wrapped = ErrInsufficientScope
		}
	}

	return &Error{Platform: Facebook, Op: op, StatusCode: resp.StatusCode, Detail: detail, Err: wrapped}
}

// isScopeError matches OAuthException codes for missing permissions: 10
// (permission denied) and the 200-299 permission family.
func isScopeError(fe transfer.FacebookError) bool {
	if fe.Type != "OAuthException" {
		return false
	}
	return fe.Code == 10 || (fe.Code >= 200 && fe.Code <= 299)
}
