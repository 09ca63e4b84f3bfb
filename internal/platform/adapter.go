package platform

import (
	"context"
	"time"
)

// Name identifies one of the supported platforms. The set is closed; adding
// a platform means adding an adapter and registering it.
type Name string

const (
	Twitter  Name = "twitter"
	Linkedin Name = "linkedin"
	Facebook Name = "facebook"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       string
}

type Account struct {
	ID        string
	Name      string
	Username  string
	AvatarURL string
}

type PublishRequest struct {
	// AccountID is the platform-side id that owns the post (person URN
	// member id, page id, ...). Not every platform needs it.
	AccountID string
	Title     string
	Body      string
	MediaURLs []string
	// MediaIDs are platform asset ids from a prior UploadMedia call.
	MediaIDs []string
}

type PublishResult struct {
	PostID      string
	URL         string
	PublishedAt time.Time
}

// Metrics is one platform read of a post's counters. Clicks and UniqueReach
// are nil when the platform does not report them. APICalls is how many
// requests the read consumed, for rate-budget accounting.
type Metrics struct {
	Impressions int64
	Likes       int64
	Replies     int64
	Reposts     int64
	Clicks      *int64
	UniqueReach *int64
	APICalls    int
}

type Media struct {
	Data        []byte
	ContentType string
	// AccountID is the platform-side owner of the asset, for platforms whose
	// upload registration names an owner.
	AccountID string
}

// Adapter is the uniform contract every platform implements. All protocol
// quirks (auth scheme, body shapes, error extraction) stay behind it; no
// caller branches on platform identity beyond registry lookup and the
// capability table.
type Adapter interface {
	Name() Name
	AuthURL(state, challenge string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	UserInfo(ctx context.Context, accessToken string) (*Account, error)
	Publish(ctx context.Context, accessToken string, req *PublishRequest) (*PublishResult, error)
	Delete(ctx context.Context, accessToken, platformPostID string) error
	FetchMetrics(ctx context.Context, accessToken, platformPostID string) (*Metrics, error)
}

// BatchMetricsFetcher is implemented by adapters whose platform exposes a
// batch metrics endpoint. The returned map is keyed by platform post id;
// ids the platform omitted are absent. The int is the number of API calls
// the batch consumed.
type BatchMetricsFetcher interface {
	FetchMetricsBatch(ctx context.Context, accessToken string, platformPostIDs []string) (map[string]*Metrics, int, error)
}

// MediaUploader is implemented by adapters that upload media to the platform
// before publish. Returns the platform asset id.
type MediaUploader interface {
	UploadMedia(ctx context.Context, accessToken string, media *Media) (string, error)
}

// FollowerStatsFetcher is implemented by adapters that can read account-level
// follower counts.
type FollowerStatsFetcher interface {
	FetchFollowerStats(ctx context.Context, accessToken, accountID string) (int64, error)
}
