package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/database"
	"github.com/msgvis/msgvis/pkg/models"
)

// MaxDimensionBuckets caps open-ended dimensions (hashtag, domain).
const MaxDimensionBuckets = 100

// MessageRepository provides data access for messages and their link tables.
type MessageRepository interface {
	// Create inserts the message and its relationship links, deriving the
	// Contains* flags from the link sets. Returns false without error when a
	// message with the same (dataset, original id) already exists.
	// Callers should run it inside a transaction.
	Create(ctx context.Context, msg *models.Message) (bool, error)
	GetDetail(ctx context.Context, id int64) (*models.MessageDetail, error)
	List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, int64, error)
	// RefreshFlags recomputes Contains* flags for a dataset from the link
	// tables and returns how many messages changed.
	RefreshFlags(ctx context.Context, datasetID int64) (int64, error)
	CountByDimension(ctx context.Context, datasetID int64, dim models.Dimension) ([]models.Bucket, error)
}

type messageRepository struct{}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository() MessageRepository {
	return &messageRepository{}
}

var _ MessageRepository = (*messageRepository)(nil)

const messageColumns = `m.id, m.dataset_id, m.original_id, m.type_id, m.sender_id, m.time,
	m.language_id, m.sentiment_id, m.contains_hashtag, m.contains_url,
	m.contains_media, m.contains_mention, m.text`

// linkTable describes one many-to-many table hanging off messages.
type linkTable struct {
	table  string
	column string
}

var (
	topicLinks   = linkTable{"message_topics", "topic_id"}
	urlLinks     = linkTable{"message_urls", "url_id"}
	hashtagLinks = linkTable{"message_hashtags", "hashtag_id"}
	mediaLinks   = linkTable{"message_media", "media_id"}
	mentionLinks = linkTable{"message_mentions", "person_id"}
)

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) (bool, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	msg.TopicIDs = uniqueIDs(msg.TopicIDs)
	msg.URLIDs = uniqueIDs(msg.URLIDs)
	msg.HashtagIDs = uniqueIDs(msg.HashtagIDs)
	msg.MediaIDs = uniqueIDs(msg.MediaIDs)
	msg.MentionIDs = uniqueIDs(msg.MentionIDs)
	msg.SyncFlags()

	query := `
		INSERT INTO messages (
			dataset_id, original_id, type_id, sender_id, time, language_id,
			sentiment_id, contains_hashtag, contains_url, contains_media,
			contains_mention, text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dataset_id, original_id) WHERE original_id IS NOT NULL DO NOTHING
		RETURNING id`

	err := q.QueryRow(ctx, query,
		msg.DatasetID,
		msg.OriginalID,
		msg.TypeID,
		msg.SenderID,
		msg.Time,
		msg.LanguageID,
		msg.SentimentID,
		msg.ContainsHashtag,
		msg.ContainsURL,
		msg.ContainsMedia,
		msg.ContainsMention,
		msg.Text,
	).Scan(&msg.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	links := []struct {
		link linkTable
		ids  []int64
	}{
		{topicLinks, msg.TopicIDs},
		{urlLinks, msg.URLIDs},
		{hashtagLinks, msg.HashtagIDs},
		{mediaLinks, msg.MediaIDs},
		{mentionLinks, msg.MentionIDs},
	}
	for _, l := range links {
		if err := insertLinks(ctx, q, l.link, msg.ID, l.ids); err != nil {
			return false, err
		}
	}

	return true, nil
}

func insertLinks(ctx context.Context, q database.Querier, link linkTable, messageID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, %s)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, link.table, link.column)

	if _, err := q.Exec(ctx, query, messageID, ids); err != nil {
		return fmt.Errorf("failed to link %s: %w", link.table, err)
	}
	return nil
}

func (r *messageRepository) GetDetail(ctx context.Context, id int64) (*models.MessageDetail, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := q.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	detail := &models.MessageDetail{
		Message:  *msg,
		Topics:   []models.Topic{},
		URLs:     []models.URL{},
		Hashtags: []models.Hashtag{},
		Media:    []models.Media{},
		Mentions: []models.Person{},
	}

	if err := r.loadReferences(ctx, q, detail); err != nil {
		return nil, err
	}
	if err := r.loadLinks(ctx, q, detail); err != nil {
		return nil, err
	}

	return detail, nil
}

func (r *messageRepository) loadReferences(ctx context.Context, q database.Querier, d *models.MessageDetail) error {
	if d.TypeID != nil {
		var t models.MessageType
		if err := q.QueryRow(ctx, `SELECT id, name FROM message_types WHERE id = $1`, *d.TypeID).
			Scan(&t.ID, &t.Name); err != nil {
			return fmt.Errorf("failed to load message type: %w", err)
		}
		d.Type = &t
	}
	if d.LanguageID != nil {
		var l models.Language
		if err := q.QueryRow(ctx, `SELECT id, code, name FROM languages WHERE id = $1`, *d.LanguageID).
			Scan(&l.ID, &l.Code, &l.Name); err != nil {
			return fmt.Errorf("failed to load language: %w", err)
		}
		d.Language = &l
	}
	if d.SentimentID != nil {
		var s models.Sentiment
		if err := q.QueryRow(ctx, `SELECT id, name FROM sentiments WHERE id = $1`, *d.SentimentID).
			Scan(&s.ID, &s.Name); err != nil {
			return fmt.Errorf("failed to load sentiment: %w", err)
		}
		d.Sentiment = &s
	}
	if d.SenderID != nil {
		sender, err := scanPerson(q.QueryRow(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, *d.SenderID))
		if err != nil {
			return fmt.Errorf("failed to load sender: %w", err)
		}
		d.Sender = sender
	}
	return nil
}

func (r *messageRepository) loadLinks(ctx context.Context, q database.Querier, d *models.MessageDetail) error {
	rows, err := q.Query(ctx, `
		SELECT t.id, t.name, t.description FROM topics t
		JOIN message_topics x ON x.topic_id = t.id
		WHERE x.message_id = $1 ORDER BY t.id`, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load topics: %w", err)
	}
	d.Topics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Topic, error) {
		var t models.Topic
		err := row.Scan(&t.ID, &t.Name, &t.Description)
		return t, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan topics: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT u.id, u.domain, u.short_url, u.full_url FROM urls u
		JOIN message_urls x ON x.url_id = u.id
		WHERE x.message_id = $1 ORDER BY u.id`, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load urls: %w", err)
	}
	d.URLs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.URL, error) {
		var u models.URL
		err := row.Scan(&u.ID, &u.Domain, &u.ShortURL, &u.FullURL)
		return u, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan urls: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT h.id, h.text FROM hashtags h
		JOIN message_hashtags x ON x.hashtag_id = h.id
		WHERE x.message_id = $1 ORDER BY h.id`, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load hashtags: %w", err)
	}
	d.Hashtags, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Hashtag, error) {
		var h models.Hashtag
		err := row.Scan(&h.ID, &h.Text)
		return h, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan hashtags: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT md.id, md.type, md.media_url FROM media md
		JOIN message_media x ON x.media_id = md.id
		WHERE x.message_id = $1 ORDER BY md.id`, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load media: %w", err)
	}
	d.Media, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Media, error) {
		var m models.Media
		err := row.Scan(&m.ID, &m.Type, &m.MediaURL)
		return m, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan media: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT `+prefixColumns("p", personColumns)+` FROM people p
		JOIN message_mentions x ON x.person_id = p.id
		WHERE x.message_id = $1 ORDER BY p.id`, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load mentions: %w", err)
	}
	mentions, err := collectPeople(rows)
	rows.Close()
	if err != nil {
		return err
	}

	for _, t := range d.Topics {
		d.TopicIDs = append(d.TopicIDs, t.ID)
	}
	for _, u := range d.URLs {
		d.URLIDs = append(d.URLIDs, u.ID)
	}
	for _, h := range d.Hashtags {
		d.HashtagIDs = append(d.HashtagIDs, h.ID)
	}
	for _, m := range d.Media {
		d.MediaIDs = append(d.MediaIDs, m.ID)
	}
	for _, p := range mentions {
		d.Mentions = append(d.Mentions, *p)
		d.MentionIDs = append(d.MentionIDs, p.ID)
	}
	return nil
}

func (r *messageRepository) List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("no database scope in context")
	}

	filter.Normalize()
	where, args := buildMessageWhere(filter)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM messages m WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM messages m WHERE %s
		ORDER BY m.time NULLS LAST, m.id
		LIMIT $%d OFFSET $%d`, messageColumns, where, len(args)-1, len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, total, nil
}

// buildMessageWhere renders the filter as a WHERE clause over alias m with
// positional arguments.
func buildMessageWhere(filter models.MessageFilter) (string, []any) {
	args := []any{filter.DatasetID}
	conds := []string{"m.dataset_id = $1"}

	if filter.Query != "" {
		args = append(args, "%"+escapeLike(filter.Query)+"%")
		conds = append(conds, fmt.Sprintf("m.text ILIKE $%d", len(args)))
	}
	if filter.SenderID != nil {
		args = append(args, *filter.SenderID)
		conds = append(conds, fmt.Sprintf("m.sender_id = $%d", len(args)))
	}
	if filter.Hashtag != "" {
		args = append(args, strings.TrimPrefix(filter.Hashtag, "#"))
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM message_hashtags x JOIN hashtags h ON h.id = x.hashtag_id
			WHERE x.message_id = m.id AND lower(h.text) = lower($%d))`, len(args)))
	}
	if filter.Language != "" {
		args = append(args, filter.Language)
		conds = append(conds, fmt.Sprintf(
			"m.language_id IN (SELECT id FROM languages WHERE code = $%d)", len(args)))
	}

	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (r *messageRepository) RefreshFlags(ctx context.Context, datasetID int64) (int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	query := `
		WITH flags AS (
			SELECT m.id,
			       EXISTS (SELECT 1 FROM message_hashtags x WHERE x.message_id = m.id) AS has_hashtag,
			       EXISTS (SELECT 1 FROM message_urls x WHERE x.message_id = m.id) AS has_url,
			       EXISTS (SELECT 1 FROM message_media x WHERE x.message_id = m.id) AS has_media,
			       EXISTS (SELECT 1 FROM message_mentions x WHERE x.message_id = m.id) AS has_mention
			FROM messages m
			WHERE m.dataset_id = $1
		)
		UPDATE messages m
		SET contains_hashtag = f.has_hashtag,
		    contains_url = f.has_url,
		    contains_media = f.has_media,
		    contains_mention = f.has_mention
		FROM flags f
		WHERE m.id = f.id
		  AND (m.contains_hashtag, m.contains_url, m.contains_media, m.contains_mention)
		      IS DISTINCT FROM (f.has_hashtag, f.has_url, f.has_media, f.has_mention)`

	result, err := q.Exec(ctx, query, datasetID)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh message flags: %w", err)
	}
	return result.RowsAffected(), nil
}

// dimensionQueries maps each dimension to a query returning (value, count)
// rows for dataset $1.
var dimensionQueries = map[models.Dimension]string{
	models.DimensionLanguage: `
		SELECT COALESCE(l.code, ''), COUNT(*)
		FROM messages m LEFT JOIN languages l ON l.id = m.language_id
		WHERE m.dataset_id = $1
		GROUP BY 1 ORDER BY 2 DESC, 1`,
	models.DimensionSentiment: `
		SELECT COALESCE(s.name, ''), COUNT(*)
		FROM messages m LEFT JOIN sentiments s ON s.id = m.sentiment_id
		WHERE m.dataset_id = $1
		GROUP BY 1 ORDER BY 2 DESC, 1`,
	models.DimensionType: `
		SELECT COALESCE(t.name, ''), COUNT(*)
		FROM messages m LEFT JOIN message_types t ON t.id = m.type_id
		WHERE m.dataset_id = $1
		GROUP BY 1 ORDER BY 2 DESC, 1`,
	models.DimensionHashtag: fmt.Sprintf(`
		SELECT h.text, COUNT(DISTINCT m.id)
		FROM messages m
		JOIN message_hashtags x ON x.message_id = m.id
		JOIN hashtags h ON h.id = x.hashtag_id
		WHERE m.dataset_id = $1
		GROUP BY 1 ORDER BY 2 DESC, 1
		LIMIT %d`, MaxDimensionBuckets),
	models.DimensionDomain: fmt.Sprintf(`
		SELECT u.domain, COUNT(DISTINCT m.id)
		FROM messages m
		JOIN message_urls x ON x.message_id = m.id
		JOIN urls u ON u.id = x.url_id
		WHERE m.dataset_id = $1
		GROUP BY 1 ORDER BY 2 DESC, 1
		LIMIT %d`, MaxDimensionBuckets),
	models.DimensionHour: `
		SELECT to_char(date_trunc('hour', m.time AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24":00:00Z"'), COUNT(*)
		FROM messages m
		WHERE m.dataset_id = $1 AND m.time IS NOT NULL
		GROUP BY 1 ORDER BY 1`,
}

func (r *messageRepository) CountByDimension(ctx context.Context, datasetID int64, dim models.Dimension) ([]models.Bucket, error) {
	query, ok := dimensionQueries[dim]
	if !ok {
		return nil, fmt.Errorf("unsupported dimension %q", dim)
	}

	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by %s: %w", dim, err)
	}

	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Bucket, error) {
		var b models.Bucket
		err := row.Scan(&b.Value, &b.Count)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s buckets: %w", dim, err)
	}
	if buckets == nil {
		buckets = []models.Bucket{}
	}
	return buckets, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID, &m.DatasetID, &m.OriginalID, &m.TypeID, &m.SenderID, &m.Time,
		&m.LanguageID, &m.SentimentID, &m.ContainsHashtag, &m.ContainsURL,
		&m.ContainsMedia, &m.ContainsMention, &m.Text,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// uniqueIDs returns ids sorted with duplicates removed.
func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// prefixColumns qualifies a comma separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
