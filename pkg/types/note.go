package types

import "time"

// NoteSummary is one search result as rendered on the results page.
type NoteSummary struct {
	NoteID        string `json:"noteId"`
	NoteURL       string `json:"noteUrl"`
	Title         string `json:"title"`
	CoverImageURL string `json:"coverImageUrl"`
	AuthorID      string `json:"authorId"`
	AuthorURL     string `json:"authorUrl"`
	AuthorName    string `json:"authorName"`
	LikeCount     string `json:"likeCount"`
}

// NoteDetail is the content of a single note page. Any field may be empty
// when it could not be located on the page.
type NoteDetail struct {
	NoteID    string   `json:"noteId"`
	NoteURL   string   `json:"noteUrl"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	ImageURLs []string `json:"imageUrls"`
}

// SearchResult is the value of a successful search.
type SearchResult struct {
	Keyword   string        `json:"keyword"`
	Notes     []NoteSummary `json:"notes"`
	Estimated int           `json:"estimated"`
}

// PublishRequest describes a new post. ImagePaths entries are local file
// paths or http(s) URLs; URLs are downloaded before upload.
type PublishRequest struct {
	Title      string   `json:"title" yaml:"title"`
	Content    string   `json:"content" yaml:"content"`
	Tags       []string `json:"tags" yaml:"tags"`
	ImagePaths []string `json:"imagePaths" yaml:"images"`
}

// PublishReceipt is the value of a successful publish.
type PublishReceipt struct {
	Title       string    `json:"title"`
	ImageCount  int       `json:"imageCount"`
	Attempts    int       `json:"attempts"`
	PublishedAt time.Time `json:"publishedAt"`
}
