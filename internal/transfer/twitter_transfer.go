package transfer

type TwitterTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

type TwitterUserResponse struct {
	Data TwitterUser `json:"data"`
}

type TwitterUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

type TweetCreateRequest struct {
	Text  string      `json:"text"`
	Media *TweetMedia `json:"media,omitempty"`
}

type TweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type TweetCreateResponse struct {
	Data TweetData `json:"data"`
}

type TweetData struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type TweetPublicMetrics struct {
	ImpressionCount int64 `json:"impression_count"`
	LikeCount       int64 `json:"like_count"`
	ReplyCount      int64 `json:"reply_count"`
	RetweetCount    int64 `json:"retweet_count"`
	QuoteCount      int64 `json:"quote_count"`
}

type TweetMetricsData struct {
	ID            string             `json:"id"`
	PublicMetrics TweetPublicMetrics `json:"public_metrics"`
}

type TweetMetricsResponse struct {
	Data TweetMetricsData `json:"data"`
}

type TweetMetricsBatchResponse struct {
	Data []TweetMetricsData `json:"data"`
}

type TwitterErrorDetail struct {
	Message string `json:"message"`
}

type TwitterErrorResponse struct {
	Title  string               `json:"title"`
	Detail string               `json:"detail"`
	Status int                  `json:"status"`
	Errors []TwitterErrorDetail `json:"errors"`
}

type TwitterMediaProcessingError struct {
	Message string `json:"message"`
}

type TwitterMediaProcessingInfo struct {
	State          string                       `json:"state"`
	CheckAfterSecs int                          `json:"check_after_secs"`
	Error          *TwitterMediaProcessingError `json:"error,omitempty"`
}

type TwitterMediaResponse struct {
	MediaIDString  string                      `json:"media_id_string"`
	ProcessingInfo *TwitterMediaProcessingInfo `json:"processing_info,omitempty"`
}
