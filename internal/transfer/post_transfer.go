package transfer

type PostCreation struct {
	Title       string
	Body        string
	ScheduledAt string
	// Platforms is a JSON array of platform names to fan out to,
	// e.g. ["twitter","linkedin"].
	Platforms string
}

type PublicationMetrics struct {
	PublicationID int64       `json:"publication_id"`
	Latest        interface{} `json:"latest"`
	History       interface{} `json:"history,omitempty"`
}
