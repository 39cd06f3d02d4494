package feed

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/feedshed/feedshed/app/sanitize"
)

// ContentExtractor distills a fetched article page down to its readable
// body, passed through the same sanitizer the parsers use.
type ContentExtractor struct {
	sanitizer *sanitize.Sanitizer
}

func NewContentExtractor(sanitizer *sanitize.Sanitizer) *ContentExtractor {
	return &ContentExtractor{sanitizer: sanitizer}
}

func (e *ContentExtractor) Run(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(strings.NewReader(string(data)), nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	if article.Content == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	slog.Debug("Content extracted successfully",
		"title", article.Title,
		"content_length", len(article.Content))

	return e.sanitizer.Run(article.Content), nil
}
