package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/msgvis/msgvis/pkg/jsonutil"
	"github.com/msgvis/msgvis/pkg/models"
)

// ErrNotMessage marks input lines that are valid JSON but carry no message,
// such as stream delete notices.
var ErrNotMessage = errors.New("not a message")

// PersonRef identifies an account by its source id.
type PersonRef struct {
	OriginalID    int64
	Username      string
	FullName      string
	Language      string
	FriendCount   int
	FollowerCount int
}

// Record is one parsed input message with its relationship sets.
type Record struct {
	OriginalID *int64
	Type       string
	Time       *time.Time
	Language   string
	Text       string
	Sender     *PersonRef
	Hashtags   []string
	URLs       []models.URL
	Media      []models.Media
	Mentions   []PersonRef
	RepliedTo  *PersonRef
	SharedFrom *PersonRef
}

type rawUser struct {
	ID             json.RawMessage `json:"id"`
	IDStr          json.RawMessage `json:"id_str"`
	ScreenName     string          `json:"screen_name"`
	Name           string          `json:"name"`
	Lang           string          `json:"lang"`
	FriendsCount   int             `json:"friends_count"`
	FollowersCount int             `json:"followers_count"`
}

type rawEntities struct {
	Hashtags []struct {
		Text string `json:"text"`
	} `json:"hashtags"`
	URLs []struct {
		URL         string `json:"url"`
		ExpandedURL string `json:"expanded_url"`
	} `json:"urls"`
	UserMentions []rawUser `json:"user_mentions"`
	Media        []struct {
		Type          string `json:"type"`
		MediaURL      string `json:"media_url"`
		MediaURLHTTPS string `json:"media_url_https"`
	} `json:"media"`
}

type rawTweet struct {
	ID                   json.RawMessage `json:"id"`
	IDStr                json.RawMessage `json:"id_str"`
	Text                 string          `json:"text"`
	FullText             string          `json:"full_text"`
	CreatedAt            string          `json:"created_at"`
	Lang                 string          `json:"lang"`
	User                 *rawUser        `json:"user"`
	Entities             rawEntities     `json:"entities"`
	ExtendedEntities     *rawEntities    `json:"extended_entities"`
	RetweetedStatus      *rawTweet       `json:"retweeted_status"`
	InReplyToStatusID    json.RawMessage `json:"in_reply_to_status_id"`
	InReplyToStatusIDStr json.RawMessage `json:"in_reply_to_status_id_str"`
	InReplyToUserID      json.RawMessage `json:"in_reply_to_user_id"`
	InReplyToUserIDStr   json.RawMessage `json:"in_reply_to_user_id_str"`
	InReplyToScreenName  string          `json:"in_reply_to_screen_name"`
	Delete               json.RawMessage `json:"delete"`
}

// Accepted created_at layouts: the Twitter API format and RFC 3339.
var tweetTimeLayouts = []string{
	time.RubyDate,
	time.RFC3339Nano,
}

// ParseTweet decodes one JSON line in Twitter API format.
func ParseTweet(line []byte) (*Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrNotMessage
	}

	var raw rawTweet
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid tweet JSON: %w", err)
	}
	if len(raw.Delete) > 0 {
		return nil, ErrNotMessage
	}

	id, hasID := jsonutil.FirstInt64(raw.IDStr, raw.ID)
	text := raw.FullText
	if text == "" {
		text = raw.Text
	}
	if !hasID && text == "" {
		return nil, ErrNotMessage
	}

	rec := &Record{
		Type:     models.MessageTypeOriginal,
		Language: clip(strings.ToLower(raw.Lang), models.MaxLanguageCodeLen),
		Text:     text,
	}
	if hasID {
		rec.OriginalID = &id
	}
	if raw.CreatedAt != "" {
		t, err := parseTweetTime(raw.CreatedAt)
		if err != nil {
			return nil, err
		}
		rec.Time = &t
	}
	if raw.User != nil {
		rec.Sender = personRef(raw.User)
	}

	switch {
	case raw.RetweetedStatus != nil:
		rec.Type = models.MessageTypeRetweet
		if raw.RetweetedStatus.User != nil {
			rec.SharedFrom = personRef(raw.RetweetedStatus.User)
		}
	case hasValue(raw.InReplyToStatusIDStr) || hasValue(raw.InReplyToStatusID):
		rec.Type = models.MessageTypeReply
		if uid, ok := jsonutil.FirstInt64(raw.InReplyToUserIDStr, raw.InReplyToUserID); ok {
			rec.RepliedTo = &PersonRef{
				OriginalID: uid,
				Username:   clip(raw.InReplyToScreenName, models.MaxUsernameLen),
			}
		}
	}

	rec.Hashtags = hashtags(raw.Entities)
	rec.URLs = urls(raw.Entities)
	rec.Mentions = mentions(raw.Entities)

	media := raw.Entities
	if raw.ExtendedEntities != nil && len(raw.ExtendedEntities.Media) > 0 {
		media = *raw.ExtendedEntities
	}
	rec.Media = mediaItems(media)

	return rec, nil
}

func parseTweetTime(s string) (time.Time, error) {
	for _, layout := range tweetTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized created_at %q", s)
}

func hasValue(raw json.RawMessage) bool {
	return jsonutil.FlexibleStringValue(raw) != ""
}

// personRef returns nil for accounts without an id, which cannot be deduplicated.
func personRef(u *rawUser) *PersonRef {
	id, ok := jsonutil.FirstInt64(u.IDStr, u.ID)
	if !ok {
		return nil
	}
	return &PersonRef{
		OriginalID:    id,
		Username:      clip(u.ScreenName, models.MaxUsernameLen),
		FullName:      clip(u.Name, models.MaxFullNameLen),
		Language:      clip(strings.ToLower(u.Lang), models.MaxLanguageCodeLen),
		FriendCount:   max(u.FriendsCount, 0),
		FollowerCount: max(u.FollowersCount, 0),
	}
}

// hashtags are stored lowercased without '#', once per message.
func hashtags(e rawEntities) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range e.Hashtags {
		text := clip(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h.Text), "#")), models.MaxHashtagLen)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, text)
	}
	return out
}

func urls(e rawEntities) []models.URL {
	seen := make(map[string]bool)
	var out []models.URL
	for _, u := range e.URLs {
		full := u.ExpandedURL
		if full == "" {
			full = u.URL
		}
		if full == "" || seen[full] {
			continue
		}
		seen[full] = true

		short := ""
		if u.URL != full {
			short = clip(u.URL, models.MaxShortURLLen)
		}
		out = append(out, models.URL{
			Domain:   clip(domainOf(full), models.MaxURLDomainLen),
			ShortURL: short,
			FullURL:  full,
		})
	}
	return out
}

// domainOf returns the lowercased host of a URL without a leading "www.".
func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if u, err = url.Parse("http://" + raw); err != nil {
			return ""
		}
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func mentions(e rawEntities) []PersonRef {
	seen := make(map[int64]bool)
	var out []PersonRef
	for i := range e.UserMentions {
		ref := personRef(&e.UserMentions[i])
		if ref == nil || seen[ref.OriginalID] {
			continue
		}
		seen[ref.OriginalID] = true
		out = append(out, *ref)
	}
	return out
}

func mediaItems(e rawEntities) []models.Media {
	seen := make(map[string]bool)
	var out []models.Media
	for _, m := range e.Media {
		mediaURL := m.MediaURLHTTPS
		if mediaURL == "" {
			mediaURL = m.MediaURL
		}
		mediaURL = clip(mediaURL, models.MaxMediaURLLen)
		if mediaURL == "" || seen[mediaURL] {
			continue
		}
		seen[mediaURL] = true
		out = append(out, models.Media{
			Type:     clip(m.Type, models.MaxMediaTypeLen),
			MediaURL: mediaURL,
		})
	}
	return out
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
