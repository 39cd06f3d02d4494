package database

import (
	"time"
)

type SourceRepository interface {
	CreateSource(src *Source) error
	GetSource(id string) (*Source, error)
	GetSourceBySlug(slug string) (*Source, error)
	GetAllSources() ([]Source, error)
	// GetDueSources returns live, update-enabled sources whose due_poll is
	// before now, ordered by due_poll ascending, capped to limit. With
	// onlyStalled set, the candidates are narrowed to sources without a
	// post created within the last 30 days.
	GetDueSources(now time.Time, limit int, onlyStalled bool) ([]Source, error)
	UpdateSource(src *Source) error
	// UpsertSourceConfig registers an externally-defined source, updating
	// feed_url and scrape config in place. Reports whether the URL changed.
	UpsertSourceConfig(src *Source) (id string, urlChanged bool, err error)
	GetSourceCount() (int, error)
	GetLiveSourceCount() (int, error)
}

type PostRepository interface {
	GetPostBySourceGUID(sourceID, guid string) (*Post, error)
	// CreatePost inserts a new post. A uniqueness conflict (duplicate slug
	// caused by upstream feed edits) is reported as ErrDuplicate.
	CreatePost(post *Post) error
	UpdatePost(post *Post) error
	// GetUnindexedPosts returns posts still at index 0 ordered by created
	// ascending, for back-filling sequence numbers.
	GetUnindexedPosts(sourceID string) ([]Post, error)
	SetPostIndex(postID string, index int) error
	GetPostCount(sourceID string) (int, error)
	GetTotalPostCount() (int, error)
	GetLatestPostTime(sourceID string) (*time.Time, error)
	GetPostsForExtraction(sourceID string, limit int) ([]Post, error)
	SetPostBodyExtracted(postID, body string, extractedAt time.Time) error

	GetEnclosures(postID string) ([]Enclosure, error)
	HasEnclosures(postID string) (bool, error)
	CreateEnclosure(e *Enclosure) error
	UpdateEnclosure(e *Enclosure) error

	// GetOrCreateMediaContent inserts the record unless (post, url) exists.
	GetOrCreateMediaContent(mc *MediaContent) (created bool, err error)
	GetMediaContentByTypes(postID string, contentTypes []string) ([]MediaContent, error)
}

type ProxyRepository interface {
	GetFirstProxy() (*WebProxy, error)
	CreateProxy(address string) error
	DeleteProxy(id string) error
	CountProxies() (int, error)
	DeleteSentinelProxies() (int64, error)
}
