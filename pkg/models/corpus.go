package models

import "time"

// Column length limits, in characters.
const (
	MaxDatasetNameLen     = 150
	MaxMessageTypeNameLen = 100
	MaxLanguageCodeLen    = 10
	MaxLanguageNameLen    = 100
	MaxURLDomainLen       = 100
	MaxShortURLLen        = 250
	MaxHashtagLen         = 100
	MaxMediaTypeLen       = 50
	MaxMediaURLLen        = 250
	MaxOlsonCodeLen       = 40
	MaxTimezoneNameLen    = 150
	MaxSentimentNameLen   = 25
	MaxTopicNameLen       = 100
	MaxUsernameLen        = 150
	MaxFullNameLen        = 250
)

// Dataset is the root of a corpus. Deleting it removes its people and messages.
// Stored in datasets table.
type Dataset struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// DatasetSummary adds row counts for listing.
type DatasetSummary struct {
	Dataset
	MessageCount int64 `json:"message_count"`
	PersonCount  int64 `json:"person_count"`
}

// MessageType classifies messages (original, reply, retweet).
type MessageType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Message type names assigned by the importer.
const (
	MessageTypeOriginal = "original"
	MessageTypeReply    = "reply"
	MessageTypeRetweet  = "retweet"
)

// Language is an ISO-style language code with a display name.
type Language struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// URL is a link shared in messages. Domain is indexed for aggregation.
type URL struct {
	ID       int64  `json:"id"`
	Domain   string `json:"domain"`
	ShortURL string `json:"short_url"`
	FullURL  string `json:"full_url"`
}

// Hashtag text is stored without the leading '#'.
type Hashtag struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Media is an attached image or video.
type Media struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	MediaURL string `json:"media_url"`
}

// Timezone is reference data; nothing in the corpus points at it.
type Timezone struct {
	ID        int64  `json:"id"`
	OlsonCode string `json:"olson_code"`
	Name      string `json:"name"`
}

// Sentiment labels a message (positive, negative, neutral).
type Sentiment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Topic groups messages; assigned by downstream analysis.
type Topic struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
