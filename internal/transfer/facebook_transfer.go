package transfer

type FacebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type FacebookUser struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Picture FacebookPicture `json:"picture"`
}

type FacebookPicture struct {
	Data FacebookPictureData `json:"data"`
}

type FacebookPictureData struct {
	URL string `json:"url"`
}

type FacebookPublishResponse struct {
	ID string `json:"id"`
}

type FacebookInsightsResponse struct {
	Data []FacebookInsight `json:"data"`
}

type FacebookInsight struct {
	Name   string                 `json:"name"`
	Values []FacebookInsightValue `json:"values"`
}

type FacebookInsightValue struct {
	Value int64 `json:"value"`
}

type FacebookSummaryCount struct {
	TotalCount int64 `json:"total_count"`
}

type FacebookCountedEdge struct {
	Summary FacebookSummaryCount `json:"summary"`
}

type FacebookShares struct {
	Count int64 `json:"count"`
}

type FacebookPage struct {
	ID             string `json:"id"`
	FollowersCount int64  `json:"followers_count"`
}

type FacebookErrorResponse struct {
	Error FacebookError `json:"error"`
}

type FacebookError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
}
