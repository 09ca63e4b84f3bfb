package platform

import "fmt"

// Capabilities describes what content a platform accepts and how its
// metrics endpoint can be driven. The table is static; validation consults
// it before a publish is even scheduled.
type Capabilities struct {
	MaxImages       int
	MaxVideos       int
	CharacterLimit  int
	PollOptionsMin  int
	PollOptionsMax  int
	BatchMetrics    bool
	MaxMetricsBatch int
	// MetricsCallCost is how many API requests one single-post metrics read
	// costs, for budget accounting before the call is made.
	MetricsCallCost int
	MediaUpload     bool
	FollowerStats   bool
}

var capabilities = map[Name]Capabilities{
	Twitter: {
		MaxImages:       4,
		MaxVideos:       1,
		CharacterLimit:  280,
		PollOptionsMin:  2,
		PollOptionsMax:  4,
		BatchMetrics:    true,
		MaxMetricsBatch: 100,
		MetricsCallCost: 1,
		MediaUpload:     true,
	},
	Linkedin: {
		MaxImages:       9,
		MaxVideos:       1,
		CharacterLimit:  3000,
		MetricsCallCost: 1,
		MediaUpload:     true,
	},
	Facebook: {
		MaxImages:       10,
		MaxVideos:       1,
		CharacterLimit:  63206,
		MetricsCallCost: 5,
		FollowerStats:   true,
	},
}

func CapabilitiesFor(name Name) (Capabilities, bool) {
	c, ok := capabilities[name]
	return c, ok
}

// ValidateContent checks body length and media counts against the platform's
// limits before any publication row is created.
func ValidateContent(name Name, body string, imageCount, videoCount int) error {
	caps, ok := CapabilitiesFor(name)
	if !ok {
		return fmt.Errorf("unknown platform %q", name)
	}
	if caps.CharacterLimit > 0 && len([]rune(body)) > caps.CharacterLimit {
		return fmt.Errorf("%s: body exceeds %d character limit", name, caps.CharacterLimit)
	}
	if imageCount > caps.MaxImages {
		return fmt.Errorf("%s: at most %d images allowed", name, caps.MaxImages)
	}
	if videoCount > caps.MaxVideos {
		return fmt.Errorf("%s: at most %d videos allowed", name, caps.MaxVideos)
	}
	if imageCount > 0 && videoCount > 0 {
		return fmt.Errorf("%s: images and videos cannot be mixed in one post", name)
	}
	return nil
}
