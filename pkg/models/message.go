package models

import "time"

// Message is the central corpus entity. The Contains* flags are denormalised
// caches of whether the matching relationship set is non-empty.
// Stored in messages table with link tables message_{topics,urls,hashtags,media,mentions}.
type Message struct {
	ID              int64      `json:"id"`
	DatasetID       int64      `json:"dataset_id"`
	OriginalID      *int64     `json:"original_id,omitempty"`
	TypeID          *int64     `json:"type_id,omitempty"`
	SenderID        *int64     `json:"sender_id,omitempty"`
	Time            *time.Time `json:"time,omitempty"`
	LanguageID      *int64     `json:"language_id,omitempty"`
	SentimentID     *int64     `json:"sentiment_id,omitempty"`
	ContainsHashtag bool       `json:"contains_hashtag"`
	ContainsURL     bool       `json:"contains_url"`
	ContainsMedia   bool       `json:"contains_media"`
	ContainsMention bool       `json:"contains_mention"`
	Text            string     `json:"text"`

	TopicIDs   []int64 `json:"topic_ids,omitempty"`
	URLIDs     []int64 `json:"url_ids,omitempty"`
	HashtagIDs []int64 `json:"hashtag_ids,omitempty"`
	MediaIDs   []int64 `json:"media_ids,omitempty"`
	MentionIDs []int64 `json:"mention_ids,omitempty"`
}

// SyncFlags sets the Contains* flags from the relationship sets.
func (m *Message) SyncFlags() {
	m.ContainsHashtag = len(m.HashtagIDs) > 0
	m.ContainsURL = len(m.URLIDs) > 0
	m.ContainsMedia = len(m.MediaIDs) > 0
	m.ContainsMention = len(m.MentionIDs) > 0
}

// MessageDetail is a message with its related rows expanded for display.
type MessageDetail struct {
	Message
	Type      *MessageType `json:"type,omitempty"`
	Sender    *Person      `json:"sender,omitempty"`
	Language  *Language    `json:"language,omitempty"`
	Sentiment *Sentiment   `json:"sentiment,omitempty"`
	Topics    []Topic      `json:"topics"`
	URLs      []URL        `json:"urls"`
	Hashtags  []Hashtag    `json:"hashtags"`
	Media     []Media      `json:"media"`
	Mentions  []Person     `json:"mentions"`
}

// MessageFilter narrows a dataset's message listing.
type MessageFilter struct {
	DatasetID int64
	Query     string // case-insensitive substring of text
	SenderID  *int64
	Hashtag   string // without '#'
	Language  string // language code
	Limit     int
	Offset    int
}

// Listing bounds shared by the explorer API.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps Limit and Offset into the allowed range.
func (f *MessageFilter) Normalize() {
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
}

// ClampPage applies default and maximum page sizes.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
