package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ SourceRepository = (*SourceRepositoryImpl)(nil)

type SourceRepositoryImpl struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepositoryImpl {
	return &SourceRepositoryImpl{db: db}
}

const sourceColumns = `id, name, slug, feed_url, site_url, image_url, description,
	last_polled, due_poll, etag, last_modified, interval_minutes,
	last_result, last_outcome, status_code, last_success, last_change, live, update_enabled,
	is_cloudflare, last_302_url, last_302_start,
	max_index, num_subs, last_created,
	item_selector, link_selector, title_selector, date_selector, extract_content,
	created_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*Source, error) {
	var src Source
	var lastPolled, lastSuccess, lastChange, last302Start, lastCreated sql.NullTime

	err := row.Scan(
		&src.ID, &src.Name, &src.Slug, &src.FeedURL, &src.SiteURL, &src.ImageURL, &src.Description,
		&lastPolled, &src.DuePoll, &src.ETag, &src.LastModified, &src.Interval,
		&src.LastResult, &src.LastOutcome, &src.StatusCode, &lastSuccess, &lastChange, &src.Live, &src.UpdateEnabled,
		&src.IsCloudflare, &src.Last302URL, &last302Start,
		&src.MaxIndex, &src.NumSubs, &lastCreated,
		&src.ItemSelector, &src.LinkSelector, &src.TitleSelector, &src.DateSelector, &src.ExtractContent,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastPolled.Valid {
		src.LastPolled = &lastPolled.Time
	}
	if lastSuccess.Valid {
		src.LastSuccess = &lastSuccess.Time
	}
	if lastChange.Valid {
		src.LastChange = &lastChange.Time
	}
	if last302Start.Valid {
		src.Last302Start = &last302Start.Time
	}
	if lastCreated.Valid {
		src.LastCreated = &lastCreated.Time
	}

	return &src, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (r *SourceRepositoryImpl) CreateSource(src *Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.DuePoll.IsZero() {
		src.DuePoll = DistantPast
	}
	if src.Interval == 0 {
		src.Interval = 400
	}
	if src.NumSubs == 0 {
		src.NumSubs = 1
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO sources (
			id, name, slug, feed_url, site_url, image_url, description,
			last_polled, due_poll, etag, last_modified, interval_minutes,
			last_result, last_outcome, status_code, last_success, last_change, live, update_enabled,
			is_cloudflare, last_302_url, last_302_start,
			max_index, num_subs, last_created,
			item_selector, link_selector, title_selector, date_selector, extract_content,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		src.ID, src.Name, src.Slug, src.FeedURL, src.SiteURL, src.ImageURL, src.Description,
		nullTime(src.LastPolled), src.DuePoll, src.ETag, src.LastModified, src.Interval,
		src.LastResult, src.LastOutcome, src.StatusCode, nullTime(src.LastSuccess), nullTime(src.LastChange), src.Live, src.UpdateEnabled,
		src.IsCloudflare, src.Last302URL, nullTime(src.Last302Start),
		src.MaxIndex, src.NumSubs, nullTime(src.LastCreated),
		src.ItemSelector, src.LinkSelector, src.TitleSelector, src.DateSelector, src.ExtractContent,
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

func (r *SourceRepositoryImpl) GetSource(id string) (*Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

func (r *SourceRepositoryImpl) GetSourceBySlug(slug string) (*Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE slug = ?`, slug)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source by slug: %w", err)
	}
	return src, nil
}

func (r *SourceRepositoryImpl) GetAllSources() ([]Source, error) {
	rows, err := r.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

func (r *SourceRepositoryImpl) GetDueSources(now time.Time, limit int, onlyStalled bool) ([]Source, error) {
	query := `SELECT ` + sourceColumns + `
		FROM sources
		WHERE live = 1 AND update_enabled = 1 AND due_poll < ?`
	args := []any{now}

	if onlyStalled {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM posts WHERE posts.source_id = sources.id AND posts.created > ?
		)`
		args = append(args, now.AddDate(0, 0, -30))
	}

	query += ` ORDER BY due_poll ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get due sources: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

func collectSources(rows *sql.Rows) ([]Source, error) {
	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}
	return sources, nil
}

func (r *SourceRepositoryImpl) UpdateSource(src *Source) error {
	src.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(`
		UPDATE sources SET
			name = ?, slug = ?, feed_url = ?, site_url = ?, image_url = ?, description = ?,
			last_polled = ?, due_poll = ?, etag = ?, last_modified = ?, interval_minutes = ?,
			last_result = ?, last_outcome = ?, status_code = ?, last_success = ?, last_change = ?,
			live = ?, update_enabled = ?,
			is_cloudflare = ?, last_302_url = ?, last_302_start = ?,
			max_index = ?, num_subs = ?, last_created = ?,
			item_selector = ?, link_selector = ?, title_selector = ?, date_selector = ?, extract_content = ?,
			updated_at = ?
		WHERE id = ?
	`,
		src.Name, src.Slug, src.FeedURL, src.SiteURL, src.ImageURL, src.Description,
		nullTime(src.LastPolled), src.DuePoll, src.ETag, src.LastModified, src.Interval,
		src.LastResult, src.LastOutcome, src.StatusCode, nullTime(src.LastSuccess), nullTime(src.LastChange),
		src.Live, src.UpdateEnabled,
		src.IsCloudflare, src.Last302URL, nullTime(src.Last302Start),
		src.MaxIndex, src.NumSubs, nullTime(src.LastCreated),
		src.ItemSelector, src.LinkSelector, src.TitleSelector, src.DateSelector, src.ExtractContent,
		src.UpdatedAt, src.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}

	return nil
}

func (r *SourceRepositoryImpl) UpsertSourceConfig(src *Source) (string, bool, error) {
	existing, err := r.GetSourceBySlug(src.Slug)
	if err != nil {
		return "", false, fmt.Errorf("failed to check existing source: %w", err)
	}

	if existing == nil {
		if err := r.CreateSource(src); err != nil {
			return "", false, err
		}
		return src.ID, false, nil
	}

	urlChanged := existing.FeedURL != src.FeedURL

	// Registry files own identity, endpoint and scrape config; polling
	// state stays whatever the fetcher last wrote.
	existing.Name = src.Name
	existing.FeedURL = src.FeedURL
	if src.SiteURL != "" {
		existing.SiteURL = src.SiteURL
	}
	existing.NumSubs = src.NumSubs
	existing.ItemSelector = src.ItemSelector
	existing.LinkSelector = src.LinkSelector
	existing.TitleSelector = src.TitleSelector
	existing.DateSelector = src.DateSelector
	existing.ExtractContent = src.ExtractContent

	if err := r.UpdateSource(existing); err != nil {
		return "", false, err
	}

	*src = *existing
	return existing.ID, urlChanged, nil
}

func (r *SourceRepositoryImpl) GetSourceCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}

func (r *SourceRepositoryImpl) GetLiveSourceCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sources WHERE live = 1 AND update_enabled = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get live source count: %w", err)
	}
	return count, nil
}
