package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/feedshed/feedshed/app/database"
)

const rssTwoItems = `<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <description>A feed for testing</description>
    <image>
      <url>https://example.com/icon.png</url>
      <title>Test Feed</title>
      <link>https://example.com</link>
    </image>
    <item>
      <title>Newer Post</title>
      <link>https://example.com/newer</link>
      <description>Short.</description>
      <guid>guid-newer</guid>
      <pubDate>Tue, 04 Jul 2023 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Older Post</title>
      <link>https://example.com/older</link>
      <description>&lt;p&gt;Body with &lt;script&gt;alert(1)&lt;/script&gt;markup and an &lt;img src="/cover.png"&gt;&lt;/p&gt;</description>
      <guid>guid-older</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <enclosure url="https://example.com/ep1.mp3" length="1234" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

func TestImportXMLCreatesPosts(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	ok, changed := im.Import(src, []byte(rssTwoItems), "application/rss+xml")
	if !ok || !changed {
		t.Fatalf("Expected ok and changed, got: ok=%v changed=%v", ok, changed)
	}

	if src.LastSuccess == nil {
		t.Error("Expected last_success to be set")
	}
	if src.SiteURL != "https://example.com" {
		t.Errorf("Expected site URL from document, got: %q", src.SiteURL)
	}
	if src.ImageURL != "https://example.com/icon.png" {
		t.Errorf("Expected image URL from document, got: %q", src.ImageURL)
	}
	if !strings.Contains(src.Description, "A feed for testing") {
		t.Errorf("Expected description from document, got: %q", src.Description)
	}
	wantLatest := time.Date(2023, 7, 4, 10, 0, 0, 0, time.UTC)
	if src.LastCreated == nil || !src.LastCreated.Equal(wantLatest) {
		t.Errorf("Expected last_created %v, got: %v", wantLatest, src.LastCreated)
	}

	older, err := posts.GetPostBySourceGUID(src.ID, "guid-older")
	if err != nil || older == nil {
		t.Fatalf("Expected post guid-older, got: %v %v", older, err)
	}
	newer, err := posts.GetPostBySourceGUID(src.ID, "guid-newer")
	if err != nil || newer == nil {
		t.Fatalf("Expected post guid-newer, got: %v %v", newer, err)
	}

	if strings.Contains(older.Body, "script") {
		t.Errorf("Expected script stripped from body, got: %q", older.Body)
	}
	if !strings.Contains(older.Body, `src="https://example.com/cover.png"`) {
		t.Errorf("Expected root-relative image resolved, got: %q", older.Body)
	}

	// Entries are reconciled oldest-first, so indexes follow created order.
	if older.Index != 1 {
		t.Errorf("Expected older post at index 1, got: %d", older.Index)
	}
	if newer.Index != 2 {
		t.Errorf("Expected newer post at index 2, got: %d", newer.Index)
	}
	if src.MaxIndex != 2 {
		t.Errorf("Expected max_index 2, got: %d", src.MaxIndex)
	}

	enclosures, err := posts.GetEnclosures(older.ID)
	if err != nil {
		t.Fatalf("Failed to get enclosures: %v", err)
	}
	if len(enclosures) != 1 {
		t.Fatalf("Expected 1 enclosure, got: %d", len(enclosures))
	}
	if enclosures[0].Href != "https://example.com/ep1.mp3" || enclosures[0].Length != 1234 {
		t.Errorf("Unexpected enclosure: %+v", enclosures[0])
	}
}

func TestImportXMLIdempotent(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	if ok, changed := im.Import(src, []byte(rssTwoItems), "application/rss+xml"); !ok || !changed {
		t.Fatalf("Expected first import ok and changed, got: ok=%v changed=%v", ok, changed)
	}
	maxIndex := src.MaxIndex

	ok, changed := im.Import(src, []byte(rssTwoItems), "application/rss+xml")
	if !ok {
		t.Fatal("Expected second import ok")
	}
	if changed {
		t.Error("Expected second import unchanged")
	}
	if src.MaxIndex != maxIndex {
		t.Errorf("Expected max_index unchanged at %d, got: %d", maxIndex, src.MaxIndex)
	}
}

func TestImportXMLEnclosureFrozen(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	if ok, _ := im.Import(src, []byte(rssTwoItems), "application/rss+xml"); !ok {
		t.Fatal("Expected first import ok")
	}

	// Same guid, enclosure URL rotated (tracker prefix change).
	rotated := strings.ReplaceAll(rssTwoItems, "https://example.com/ep1.mp3", "https://tracker.example.net/x/ep1.mp3")
	if ok, _ := im.Import(src, []byte(rotated), "application/rss+xml"); !ok {
		t.Fatal("Expected second import ok")
	}

	post, _ := posts.GetPostBySourceGUID(src.ID, "guid-older")
	enclosures, err := posts.GetEnclosures(post.ID)
	if err != nil {
		t.Fatalf("Failed to get enclosures: %v", err)
	}
	if len(enclosures) != 1 {
		t.Fatalf("Expected enclosure count frozen at 1, got: %d", len(enclosures))
	}
	if enclosures[0].Href != "https://example.com/ep1.mp3" {
		t.Errorf("Expected original enclosure href kept, got: %q", enclosures[0].Href)
	}

	// Matching href refreshes length and type in place.
	refreshed := strings.ReplaceAll(rssTwoItems, `length="1234"`, `length="9999"`)
	if ok, _ := im.Import(src, []byte(refreshed), "application/rss+xml"); !ok {
		t.Fatal("Expected third import ok")
	}
	enclosures, _ = posts.GetEnclosures(post.ID)
	if len(enclosures) != 1 || enclosures[0].Length != 9999 {
		t.Errorf("Expected enclosure length refreshed to 9999, got: %+v", enclosures)
	}
}

const rssMediaContent = `<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Video Feed</title>
    <link>https://video.example.com</link>
    <item>
      <title>Clip</title>
      <link>https://video.example.com/clip</link>
      <description>A clip</description>
      <guid>clip-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <media:content url="https://video.example.com/clip.mp4" type="video/mp4" duration="120"/>
      <media:subTitle href="https://video.example.com/clip.ttml" lang="en" type="application/ttml+xml"/>
    </item>
  </channel>
</rss>`

func TestImportXMLMediaContent(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	if ok, _ := im.Import(src, []byte(rssMediaContent), "application/rss+xml"); !ok {
		t.Fatal("Expected import ok")
	}

	post, _ := posts.GetPostBySourceGUID(src.ID, "clip-1")
	if post == nil {
		t.Fatal("Expected post clip-1")
	}

	if post.SubtitleHref != "https://video.example.com/clip.ttml" {
		t.Errorf("Expected subtitle href, got: %q", post.SubtitleHref)
	}
	if post.SubtitleLang != "en" {
		t.Errorf("Expected subtitle lang en, got: %q", post.SubtitleLang)
	}

	media, err := posts.GetMediaContentByTypes(post.ID, []string{"video/mp4"})
	if err != nil || len(media) != 1 {
		t.Fatalf("Expected 1 media content, got: %v %v", media, err)
	}
	if media[0].Duration == nil || *media[0].Duration != 120 {
		t.Errorf("Expected duration 120, got: %v", media[0].Duration)
	}

	// No feed enclosure, but playable media: one gets synthesized.
	enclosures, _ := posts.GetEnclosures(post.ID)
	if len(enclosures) != 1 {
		t.Fatalf("Expected synthesized enclosure, got: %d", len(enclosures))
	}
	if enclosures[0].Href != "https://video.example.com/clip.mp4" || enclosures[0].Type != "video/mp4" {
		t.Errorf("Unexpected synthesized enclosure: %+v", enclosures[0])
	}
}

const jsonFeedTwoItems = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "JSON Test Feed",
  "home_page_url": "https://json.example.com",
  "description": "JSON feed for testing",
  "items": [
    {
      "id": "json-2",
      "url": "https://json.example.com/2",
      "title": "Second",
      "content_html": "<p>Rich <script>alert(1)</script>content</p>",
      "content_text": "plain fallback",
      "date_published": "2023-07-04T10:00:00Z",
      "attachments": [
        {"url": "https://json.example.com/2.mp3", "mime_type": "audio/mpeg", "size_in_bytes": 5678}
      ]
    },
    {
      "id": "json-1",
      "url": "https://json.example.com/1",
      "title": "First",
      "content_text": "text only",
      "date_published": "2023-07-03T10:00:00Z"
    }
  ]
}`

func TestImportJSON(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	ok, changed := im.Import(src, []byte(jsonFeedTwoItems), "application/feed+json")
	if !ok || !changed {
		t.Fatalf("Expected ok and changed, got: ok=%v changed=%v", ok, changed)
	}

	if src.SiteURL != "https://json.example.com" {
		t.Errorf("Expected site URL from document, got: %q", src.SiteURL)
	}

	second, _ := posts.GetPostBySourceGUID(src.ID, "json-2")
	if second == nil {
		t.Fatal("Expected post json-2")
	}
	if strings.Contains(second.Body, "script") {
		t.Errorf("Expected script stripped, got: %q", second.Body)
	}
	if !strings.Contains(second.Body, "content") {
		t.Errorf("Expected content_html preferred over content_text, got: %q", second.Body)
	}

	wantCreated := time.Date(2023, 7, 4, 10, 0, 0, 0, time.UTC)
	if !second.Created.Equal(wantCreated) {
		t.Errorf("Expected created %v, got: %v", wantCreated, second.Created)
	}

	enclosures, _ := posts.GetEnclosures(second.ID)
	if len(enclosures) != 1 {
		t.Fatalf("Expected 1 enclosure from attachment, got: %d", len(enclosures))
	}
	if enclosures[0].Length != 5678 || enclosures[0].Type != "audio/mpeg" {
		t.Errorf("Unexpected enclosure: %+v", enclosures[0])
	}

	first, _ := posts.GetPostBySourceGUID(src.ID, "json-1")
	if first == nil {
		t.Fatal("Expected post json-1")
	}
	if first.Index != 1 || second.Index != 2 {
		t.Errorf("Expected indexes 1 and 2, got: %d and %d", first.Index, second.Index)
	}
}

func TestImportJSONExpired(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	body := `{"version": "https://jsonfeed.org/version/1.1", "title": "Done", "expired": true, "items": [{"id": "x", "title": "t"}]}`

	ok, changed := im.Import(src, []byte(body), "application/json")
	if ok || changed {
		t.Fatalf("Expected expired feed not ok, got: ok=%v changed=%v", ok, changed)
	}
	if src.LastResult != "This feed has expired" {
		t.Errorf("Expected expiry result, got: %q", src.LastResult)
	}
	if src.Interval < MaxInterval {
		t.Errorf("Expected interval pushed past the clamp ceiling, got: %d", src.Interval)
	}
}

func TestImportEmptyFeed(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>Empty</title></channel></rss>`

	ok, changed := im.Import(src, []byte(body), "application/rss+xml")
	if ok || changed {
		t.Fatalf("Expected empty feed not ok, got: ok=%v changed=%v", ok, changed)
	}
	if src.LastResult != "Feed is empty" {
		t.Errorf("Expected 'Feed is empty', got: %q", src.LastResult)
	}
	if src.LastSuccess != nil {
		t.Error("Expected last_success untouched for empty feed")
	}
}

func TestImportUnknownType(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	ok, changed := im.Import(src, []byte("\x00\x01binary"), "application/octet-stream")
	if ok || changed {
		t.Fatalf("Expected unknown type not ok, got: ok=%v changed=%v", ok, changed)
	}
	if src.LastResult != "Unknown feed type: application/octet-stream" {
		t.Errorf("Expected unknown type result, got: %q", src.LastResult)
	}
	if src.LastOutcome != database.OutcomeParseError {
		t.Errorf("Expected parse_error outcome, got: %q", src.LastOutcome)
	}
}

func TestImportParseError(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	ok, _ := im.Import(src, []byte("<<<< definitely not a feed"), "application/rss+xml")
	if ok {
		t.Fatal("Expected malformed document not ok")
	}
	if src.LastResult != "Feed Parse Error" {
		t.Errorf("Expected 'Feed Parse Error', got: %q", src.LastResult)
	}
}

func TestImportTitleSanitized(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	body := `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "Hostile Feed",
  "items": [
    {
      "id": "hostile-1",
      "url": "https://example.com/1",
      "title": "Breaking <script>alert(1)</script>news",
      "content_text": "body"
    }
  ]
}`

	if ok, _ := im.Import(src, []byte(body), "application/feed+json"); !ok {
		t.Fatal("Expected import ok")
	}

	post, _ := posts.GetPostBySourceGUID(src.ID, "hostile-1")
	if post == nil {
		t.Fatal("Expected post hostile-1")
	}
	if strings.Contains(post.Title, "script") {
		t.Errorf("Expected script stripped from title, got: %q", post.Title)
	}
	if !strings.Contains(post.Title, "Breaking") {
		t.Errorf("Expected title text kept, got: %q", post.Title)
	}
}

func TestImportBodyDropsLegacyAttributes(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	body := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Table Feed</title>
    <link>https://example.com</link>
    <item>
      <title>Tabular</title>
      <link>https://example.com/t</link>
      <description>&lt;table&gt;&lt;tr&gt;&lt;td align="left" valign="top"&gt;cell&lt;/td&gt;&lt;/tr&gt;&lt;/table&gt;</description>
      <guid>tab-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	if ok, _ := im.Import(src, []byte(body), "application/rss+xml"); !ok {
		t.Fatal("Expected import ok")
	}

	post, _ := posts.GetPostBySourceGUID(src.ID, "tab-1")
	if post == nil {
		t.Fatal("Expected post tab-1")
	}
	if !strings.Contains(post.Body, "<td") || !strings.Contains(post.Body, "cell") {
		t.Fatalf("Expected table markup kept, got: %q", post.Body)
	}
	if strings.Contains(post.Body, "align") || strings.Contains(post.Body, "valign") {
		t.Errorf("Expected presentation attributes dropped, got: %q", post.Body)
	}
}

func TestImportFractionalMediaDuration(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	body := strings.ReplaceAll(rssMediaContent, `duration="120"`, `duration="90.7"`)
	if ok, _ := im.Import(src, []byte(body), "application/rss+xml"); !ok {
		t.Fatal("Expected import ok")
	}

	post, _ := posts.GetPostBySourceGUID(src.ID, "clip-1")
	if post == nil {
		t.Fatal("Expected post clip-1")
	}
	media, err := posts.GetMediaContentByTypes(post.ID, []string{"video/mp4"})
	if err != nil || len(media) != 1 {
		t.Fatalf("Expected 1 media content, got: %v %v", media, err)
	}
	if media[0].Duration == nil || *media[0].Duration != 90 {
		t.Errorf("Expected duration truncated to 90, got: %v", media[0].Duration)
	}
}

func TestImportDuplicateSlugSkipped(t *testing.T) {
	sources, posts, _ := newTestRepos(t)
	src := createTestSource(t, sources, nil)
	im := NewImporter(posts, newTestSanitizer())

	body := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Dup Feed</title>
    <link>https://example.com</link>
    <item>
      <title>Same Title</title>
      <link>https://example.com/a</link>
      <guid>guid-a</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Same Title</title>
      <link>https://example.com/b</link>
      <guid>guid-b</guid>
      <pubDate>Tue, 04 Jul 2023 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	ok, changed := im.Import(src, []byte(body), "application/rss+xml")
	if !ok || !changed {
		t.Fatalf("Expected batch to continue past the duplicate, got: ok=%v changed=%v", ok, changed)
	}

	count, err := posts.GetPostCount(src.ID)
	if err != nil {
		t.Fatalf("Failed to count posts: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 post (duplicate slug skipped), got: %d", count)
	}
}
