package sources

// Descriptor is the static configuration of one syndicated origin.
type Descriptor struct {
	Name            string   `yaml:"name" validate:"required"`
	URL             string   `yaml:"url" validate:"required,url"`
	FeedURL         string   `yaml:"feed_url" validate:"omitempty,url"`
	Category        string   `yaml:"category" validate:"required"`
	Verified        bool     `yaml:"verified"`
	UpdateFrequency string   `yaml:"update_frequency"`
	Tags            []string `yaml:"tags"`
	Filters         []Filter `yaml:"filters" validate:"dive"`
}

// Filter keeps or drops feed entries by a case-insensitive substring match
// on one field.
type Filter struct {
	Field    string   `yaml:"field" validate:"required,oneof=title summary link categories"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// Community describes the partner community API endpoint.
type Community struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	PostURL string `yaml:"post_url" validate:"omitempty,url"`
	Enabled bool   `yaml:"enabled"`
}

type file struct {
	Sources   []Descriptor `yaml:"sources" validate:"dive"`
	Community Community    `yaml:"community"`
}
