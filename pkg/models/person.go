package models

// Person is a message author or a mentioned account, scoped to one dataset.
// Stored in people table.
type Person struct {
	ID             int64   `json:"id"`
	DatasetID      int64   `json:"dataset_id"`
	OriginalID     *int64  `json:"original_id,omitempty"`
	Username       *string `json:"username,omitempty"`
	FullName       *string `json:"full_name,omitempty"`
	LanguageID     *int64  `json:"language_id,omitempty"`
	RepliedToCount int     `json:"replied_to_count"`
	SharedCount    int     `json:"shared_count"`
	MentionedCount int     `json:"mentioned_count"`
	FriendCount    int     `json:"friend_count"`
	FollowerCount  int     `json:"follower_count"`
}

// PersonCounters are increments applied to engagement counters.
// Negative values are rejected by the database.
type PersonCounters struct {
	RepliedTo int
	Shared    int
	Mentioned int
}

// IsZero reports whether no counter changes.
func (c PersonCounters) IsZero() bool {
	return c.RepliedTo == 0 && c.Shared == 0 && c.Mentioned == 0
}
