package repositories

import (
	"context"
	"fmt"

	"github.com/msgvis/msgvis/pkg/database"
	"github.com/msgvis/msgvis/pkg/models"
)

// LookupRepository resolves shared lookup rows (languages, types, hashtags,
// urls, media), creating them on first use. Each Ensure call is a single
// upsert statement, so concurrent importers converge on one row per key.
type LookupRepository interface {
	EnsureLanguage(ctx context.Context, code string) (int64, error)
	EnsureMessageType(ctx context.Context, name string) (int64, error)
	EnsureHashtag(ctx context.Context, text string) (int64, error)
	EnsureURL(ctx context.Context, url *models.URL) (int64, error)
	EnsureMedia(ctx context.Context, media *models.Media) (int64, error)
}

type lookupRepository struct{}

// NewLookupRepository creates a new LookupRepository.
func NewLookupRepository() LookupRepository {
	return &lookupRepository{}
}

var _ LookupRepository = (*lookupRepository)(nil)

// ensure runs an INSERT ... ON CONFLICT DO UPDATE ... RETURNING id statement.
// The no-op update makes RETURNING yield the existing row's id on conflict.
func ensure(ctx context.Context, what, query string, args ...any) (int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var id int64
	if err := q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to ensure %s: %w", what, err)
	}
	return id, nil
}

func (r *lookupRepository) EnsureLanguage(ctx context.Context, code string) (int64, error) {
	return ensure(ctx, "language", `
		INSERT INTO languages (code) VALUES ($1)
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id`, code)
}

func (r *lookupRepository) EnsureMessageType(ctx context.Context, name string) (int64, error) {
	return ensure(ctx, "message type", `
		INSERT INTO message_types (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name)
}

func (r *lookupRepository) EnsureHashtag(ctx context.Context, text string) (int64, error) {
	return ensure(ctx, "hashtag", `
		INSERT INTO hashtags (text) VALUES ($1)
		ON CONFLICT (text) DO UPDATE SET text = EXCLUDED.text
		RETURNING id`, text)
}

func (r *lookupRepository) EnsureURL(ctx context.Context, url *models.URL) (int64, error) {
	id, err := ensure(ctx, "url", `
		INSERT INTO urls (domain, short_url, full_url) VALUES ($1, $2, $3)
		ON CONFLICT ((md5(full_url))) DO UPDATE
		SET short_url = CASE WHEN urls.short_url = '' THEN EXCLUDED.short_url ELSE urls.short_url END
		RETURNING id`, url.Domain, url.ShortURL, url.FullURL)
	if err != nil {
		return 0, err
	}
	url.ID = id
	return id, nil
}

func (r *lookupRepository) EnsureMedia(ctx context.Context, media *models.Media) (int64, error) {
	id, err := ensure(ctx, "media", `
		INSERT INTO media (type, media_url) VALUES ($1, $2)
		ON CONFLICT (media_url) DO UPDATE SET type = EXCLUDED.type
		RETURNING id`, media.Type, media.MediaURL)
	if err != nil {
		return 0, err
	}
	media.ID = id
	return id, nil
}
