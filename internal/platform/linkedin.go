package platform

import (
	"bytes"
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
	linkedinAuthURL = "https://www.linkedin.com/oauth/v2/authorization"
	linkedinScopes  = "openid profile email w_member_social"
)

// LinkedinAdapter covers the quirks the other platforms don't have: client
// credentials sent in the token form body (no PKCE), a nested ugcPosts
// content structure, the post id arriving in the X-RestLi-Id response
// header, and two-phase media upload (registerUpload then a direct PUT).
type LinkedinAdapter struct {
	clientID     string
	clientSecret string
	redirectURI  string
	apiBase      string
	client       *http.Client
}

func NewLinkedin(cfg config.Config) *LinkedinAdapter {
	return &LinkedinAdapter{
		clientID:     cfg.LinkedinClientID,
		clientSecret: cfg.LinkedinClientSecret,
		redirectURI:  cfg.LinkedinRedirectURI,
		apiBase:      "https://api.linkedin.com",
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *LinkedinAdapter) Name() Name { return Linkedin }

func (a *LinkedinAdapter) AuthURL(state, _ string) string {
	params := url.Values{}
	params.Add("response_type", "code")
	params.Add("client_id", a.clientID)
	params.Add("redirect_uri", a.redirectURI)
	params.Add("scope", linkedinScopes)
	params.Add("state", state)
	return fmt.Sprintf("%s?%s", linkedinAuthURL, params.Encode())
}

func (a *LinkedinAdapter) token(ctx context.Context, data url.Values) (*TokenPair, error) {
	data.Set("client_id", a.clientID)
	data.Set("client_secret", a.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/oauth/v2/accessToken", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("oauth.token", resp)
	}

	var tokenResponse transfer.LinkedinTokenResponse
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

func (a *LinkedinAdapter) ExchangeCode(ctx context.Context, code, _ string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", a.redirectURI)
	return a.token(ctx, data)
}

func (a *LinkedinAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return a.token(ctx, data)
}

func (a *LinkedinAdapter) UserInfo(ctx context.Context, accessToken string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/v2/userinfo", nil)
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
		return nil, a.apiError("userinfo", resp)
	}

	var result transfer.LinkedinUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Account{
		ID:        result.Sub,
		Name:      result.Name,
		Username:  result.Email,
		AvatarURL: result.Picture,
	}, nil
}

// Publish creates a ugcPost. The platform does not echo the post id in the
// response body; it arrives in the X-RestLi-Id header.
func (a *LinkedinAdapter) Publish(ctx context.Context, accessToken string, pr *PublishRequest) (*PublishResult, error) {
	category := "NONE"
	var media []transfer.LinkedinShareMedia
	for _, assetID := range pr.MediaIDs {
		category = "IMAGE"
		media = append(media, transfer.LinkedinShareMedia{Status: "READY", Media: assetID})
	}

	body := transfer.LinkedinUGCPostRequest{
		Author:         "urn:li:person:" + pr.AccountID,
		LifecycleState: "PUBLISHED",
		SpecificContent: transfer.LinkedinSpecificContent{
			ShareContent: transfer.LinkedinShareContent{
				ShareCommentary:    transfer.LinkedinShareText{Text: pr.Body},
				ShareMediaCategory: category,
				Media:              media,
			},
		},
		Visibility: transfer.LinkedinVisibility{MemberNetworkVisibility: "PUBLIC"},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v2/ugcPosts", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, a.apiError("ugcPosts.create", resp)
	}

	postID := resp.Header.Get("X-RestLi-Id")
	if postID == "" {
		return nil, &Error{Platform: Linkedin, Op: "ugcPosts.create", Detail: "response missing X-RestLi-Id header"}
	}

	return &PublishResult{
		PostID:      postID,
		URL:         fmt.Sprintf("https://www.linkedin.com/feed/update/%s", postID),
		PublishedAt: time.Now(),
	}, nil
}

func (a *LinkedinAdapter) Delete(ctx context.Context, accessToken, platformPostID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.apiBase+"/v2/ugcPosts/"+url.PathEscape(platformPostID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return a.apiError("ugcPosts.delete", resp)
	}
	return nil
}

// FetchMetrics reads socialActions: simple counters, one call, no
// impressions reported by this endpoint.
func (a *LinkedinAdapter) FetchMetrics(ctx context.Context, accessToken, platformPostID string) (*Metrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/v2/socialActions/"+url.PathEscape(platformPostID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.apiError("socialActions", resp)
	}

	var result transfer.LinkedinSocialActions
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Metrics{
		Likes:    result.LikesSummary.TotalLikes,
		Replies:  result.CommentsSummary.AggregatedTotalComments,
		APICalls: 1,
	}, nil
}

// UploadMedia is two-phase: registerUpload returns an asset URN plus a
// one-time upload URL, then the bytes go up with a direct PUT.
func (a *LinkedinAdapter) UploadMedia(ctx context.Context, accessToken string, media *Media) (string, error) {
	registerBody := transfer.LinkedinRegisterUploadRequest{
		RegisterUploadRequest: transfer.LinkedinRegisterUpload{
			Recipes: []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			Owner:   "urn:li:person:" + media.AccountID,
			ServiceRelationships: []transfer.LinkedinServiceRelationship{
				{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"},
			},
		},
	}

	jsonData, err := json.Marshal(registerBody)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v2/assets?action=registerUpload", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", a.apiError("assets.registerUpload", resp)
	}

	var registered transfer.LinkedinRegisterUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	uploadURL := registered.Value.UploadMechanism.MediaUploadHTTPRequest.UploadURL
	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(media.Data))
	if err != nil {
		return "", err
	}
	putReq.Header.Set("Authorization", "Bearer "+accessToken)
	putReq.Header.Set("Content-Type", media.ContentType)

	putResp, err := a.client.Do(putReq)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer putResp.Body.Close()

	if putResp.StatusCode < 200 || putResp.StatusCode > 299 {
		return "", a.apiError("assets.upload", putResp)
	}

	return registered.Value.Asset, nil
}

func (a *LinkedinAdapter) apiError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(resp.Body)

	var parsed transfer.LinkedinErrorResponse
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		detail = parsed.Message
	}

	return &Error{Platform: Linkedin, Op: op, StatusCode: resp.StatusCode, Detail: detail}
}
