package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ PostRepository = (*PostRepositoryImpl)(nil)

type PostRepositoryImpl struct {
	db *DB
}

func NewPostRepository(db *DB) *PostRepositoryImpl {
	return &PostRepositoryImpl{db: db}
}

const postColumns = `id, source_id, guid, slug, title, body, link, author, image_url,
	created, found, idx, subtitle_href, subtitle_lang, subtitle_type, body_extracted_at`

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	var p Post
	var extractedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.SourceID, &p.GUID, &p.Slug, &p.Title, &p.Body, &p.Link, &p.Author, &p.ImageURL,
		&p.Created, &p.Found, &p.Index, &p.SubtitleHref, &p.SubtitleLang, &p.SubtitleType, &extractedAt,
	)
	if err != nil {
		return nil, err
	}
	if extractedAt.Valid {
		p.BodyExtractedAt = &extractedAt.Time
	}
	return &p, nil
}

func (r *PostRepositoryImpl) GetPostBySourceGUID(sourceID, guid string) (*Post, error) {
	row := r.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE source_id = ? AND guid = ?`, sourceID, guid)

	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post by guid: %w", err)
	}
	return p, nil
}

func (r *PostRepositoryImpl) CreatePost(post *Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Found.IsZero() {
		post.Found = time.Now().UTC()
	}
	if post.Created.IsZero() {
		post.Created = post.Found
	}
	if post.Body == "" {
		post.Body = " "
	}

	_, err := r.db.Exec(`
		INSERT INTO posts (
			id, source_id, guid, slug, title, body, link, author, image_url,
			created, found, idx, subtitle_href, subtitle_lang, subtitle_type, body_extracted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		post.ID, post.SourceID, post.GUID, post.Slug, post.Title, post.Body, post.Link, post.Author, post.ImageURL,
		post.Created, post.Found, post.Index, post.SubtitleHref, post.SubtitleLang, post.SubtitleType,
		nullTime(post.BodyExtractedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create post: %w", err)
	}

	return nil
}

func (r *PostRepositoryImpl) UpdatePost(post *Post) error {
	_, err := r.db.Exec(`
		UPDATE posts SET
			guid = ?, slug = ?, title = ?, body = ?, link = ?, author = ?, image_url = ?,
			created = ?, idx = ?, subtitle_href = ?, subtitle_lang = ?, subtitle_type = ?,
			body_extracted_at = ?
		WHERE id = ?
	`,
		post.GUID, post.Slug, post.Title, post.Body, post.Link, post.Author, post.ImageURL,
		post.Created, post.Index, post.SubtitleHref, post.SubtitleLang, post.SubtitleType,
		nullTime(post.BodyExtractedAt), post.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update post: %w", err)
	}
	return nil
}

func (r *PostRepositoryImpl) GetUnindexedPosts(sourceID string) ([]Post, error) {
	rows, err := r.db.Query(`
		SELECT `+postColumns+`
		FROM posts
		WHERE source_id = ? AND idx = 0
		ORDER BY created ASC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unindexed posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return posts, nil
}

func (r *PostRepositoryImpl) SetPostIndex(postID string, index int) error {
	_, err := r.db.Exec(`UPDATE posts SET idx = ? WHERE id = ?`, index, postID)
	if err != nil {
		return fmt.Errorf("failed to set post index: %w", err)
	}
	return nil
}

func (r *PostRepositoryImpl) GetPostCount(sourceID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE source_id = ?`, sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get post count: %w", err)
	}
	return count, nil
}

func (r *PostRepositoryImpl) GetTotalPostCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get total post count: %w", err)
	}
	return count, nil
}

func (r *PostRepositoryImpl) GetLatestPostTime(sourceID string) (*time.Time, error) {
	// MAX(created) would come back as a bare string, not a TIMESTAMP.
	var latest time.Time
	err := r.db.QueryRow(`
		SELECT created FROM posts WHERE source_id = ? ORDER BY created DESC LIMIT 1
	`, sourceID).Scan(&latest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest post time: %w", err)
	}
	return &latest, nil
}

func (r *PostRepositoryImpl) GetPostsForExtraction(sourceID string, limit int) ([]Post, error) {
	rows, err := r.db.Query(`
		SELECT `+postColumns+`
		FROM posts
		WHERE source_id = ? AND body_extracted_at IS NULL AND link != ''
		ORDER BY created DESC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts for extraction: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *PostRepositoryImpl) SetPostBodyExtracted(postID, body string, extractedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE posts SET body = ?, body_extracted_at = ? WHERE id = ?
	`, body, extractedAt, postID)
	if err != nil {
		return fmt.Errorf("failed to store extracted body: %w", err)
	}
	return nil
}

func (r *PostRepositoryImpl) GetEnclosures(postID string) ([]Enclosure, error) {
	rows, err := r.db.Query(`SELECT id, post_id, href, length, type FROM enclosures WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enclosures: %w", err)
	}
	defer rows.Close()

	var enclosures []Enclosure
	for rows.Next() {
		var e Enclosure
		if err := rows.Scan(&e.ID, &e.PostID, &e.Href, &e.Length, &e.Type); err != nil {
			return nil, fmt.Errorf("failed to scan enclosure row: %w", err)
		}
		enclosures = append(enclosures, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enclosure rows: %w", err)
	}
	return enclosures, nil
}

func (r *PostRepositoryImpl) HasEnclosures(postID string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM enclosures WHERE post_id = ?`, postID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count enclosures: %w", err)
	}
	return count > 0, nil
}

func (r *PostRepositoryImpl) CreateEnclosure(e *Enclosure) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = "audio/mpeg"
	}

	_, err := r.db.Exec(`
		INSERT INTO enclosures (id, post_id, href, length, type) VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.PostID, e.Href, e.Length, e.Type)
	if err != nil {
		return fmt.Errorf("failed to create enclosure: %w", err)
	}
	return nil
}

func (r *PostRepositoryImpl) UpdateEnclosure(e *Enclosure) error {
	_, err := r.db.Exec(`
		UPDATE enclosures SET href = ?, length = ?, type = ? WHERE id = ?
	`, e.Href, e.Length, e.Type, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update enclosure: %w", err)
	}
	return nil
}

func (r *PostRepositoryImpl) GetOrCreateMediaContent(mc *MediaContent) (bool, error) {
	var id string
	err := r.db.QueryRow(`
		SELECT id FROM media_contents WHERE post_id = ? AND url = ?
	`, mc.PostID, mc.URL).Scan(&id)
	if err == nil {
		mc.ID = id
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to check media content: %w", err)
	}

	mc.ID = uuid.NewString()
	var duration any
	if mc.Duration != nil {
		duration = *mc.Duration
	}
	_, err = r.db.Exec(`
		INSERT INTO media_contents (id, post_id, url, content_type, duration) VALUES (?, ?, ?, ?, ?)
	`, mc.ID, mc.PostID, mc.URL, mc.ContentType, duration)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create media content: %w", err)
	}
	return true, nil
}

func (r *PostRepositoryImpl) GetMediaContentByTypes(postID string, contentTypes []string) ([]MediaContent, error) {
	if len(contentTypes) == 0 {
		return nil, nil
	}

	query := `SELECT id, post_id, url, content_type, duration FROM media_contents WHERE post_id = ? AND content_type IN (`
	args := []any{postID}
	for i, ct := range contentTypes {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, ct)
	}
	query += ")"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get media contents: %w", err)
	}
	defer rows.Close()

	var contents []MediaContent
	for rows.Next() {
		var mc MediaContent
		var duration sql.NullInt64
		if err := rows.Scan(&mc.ID, &mc.PostID, &mc.URL, &mc.ContentType, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan media content row: %w", err)
		}
		if duration.Valid {
			mc.Duration = &duration.Int64
		}
		contents = append(contents, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media content rows: %w", err)
	}
	return contents, nil
}
