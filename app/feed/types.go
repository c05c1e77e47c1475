package feed

import (
	"time"
)

// Metadata is the channel-level information of a parsed feed document.
// Link is the site the feed describes.
type Metadata struct {
	Title string
	Link  string
}

// Entry is one parsed feed item before normalization. Authors holds display
// names only.
type Entry struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt *time.Time
	Authors     []string
	Categories  []string
}

// Channel describes the RSS document rendered from the merged dataset.
type Channel struct {
	Title       string
	Link        string
	Description string
	SelfLink    string
	Version     string
}
