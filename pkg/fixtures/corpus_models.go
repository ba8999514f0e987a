package fixtures

// CorpusRegistry describes every corpus table, parents first.
func CorpusRegistry() *Registry {
	return NewRegistry(
		&Model{App: "corpus", Name: "Dataset", Fields: []Field{
			{Name: "name", Column: "name", Kind: KindString},
			{Name: "description", Column: "description", Kind: KindString},
			{Name: "created_at", Column: "created_at", Kind: KindTime},
		}},
		&Model{App: "corpus", Name: "MessageType", Fields: []Field{
			{Name: "name", Column: "name", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Language", Fields: []Field{
			{Name: "code", Column: "code", Kind: KindString},
			{Name: "name", Column: "name", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Url", Fields: []Field{
			{Name: "domain", Column: "domain", Kind: KindString},
			{Name: "short_url", Column: "short_url", Kind: KindString},
			{Name: "full_url", Column: "full_url", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Hashtag", Fields: []Field{
			{Name: "text", Column: "text", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Media", Fields: []Field{
			{Name: "type", Column: "type", Kind: KindString},
			{Name: "media_url", Column: "media_url", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Timezone", Fields: []Field{
			{Name: "olson_code", Column: "olson_code", Kind: KindString},
			{Name: "name", Column: "name", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Sentiment", Fields: []Field{
			{Name: "name", Column: "name", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Topic", Fields: []Field{
			{Name: "name", Column: "name", Kind: KindString},
			{Name: "description", Column: "description", Kind: KindString},
		}},
		&Model{App: "corpus", Name: "Person", Fields: []Field{
			{Name: "dataset", Column: "dataset_id", Kind: KindForeignKey, Aliases: []string{"dataset_id"}},
			{Name: "original_id", Column: "original_id", Kind: KindInt, Nullable: true},
			{Name: "username", Column: "username", Kind: KindString, Nullable: true},
			{Name: "full_name", Column: "full_name", Kind: KindString, Nullable: true},
			{Name: "language", Column: "language_id", Kind: KindForeignKey, Nullable: true},
			{Name: "replied_to_count", Column: "replied_to_count", Kind: KindInt},
			{Name: "shared_count", Column: "shared_count", Kind: KindInt},
			{Name: "mentioned_count", Column: "mentioned_count", Kind: KindInt},
			{Name: "friend_count", Column: "friend_count", Kind: KindInt},
			{Name: "follower_count", Column: "follower_count", Kind: KindInt},
		}},
		&Model{App: "corpus", Name: "Message", Fields: []Field{
			{Name: "dataset", Column: "dataset_id", Kind: KindForeignKey},
			{Name: "original_id", Column: "original_id", Kind: KindInt, Nullable: true},
			{Name: "type", Column: "type_id", Kind: KindForeignKey, Nullable: true},
			{Name: "sender", Column: "sender_id", Kind: KindForeignKey, Nullable: true},
			{Name: "time", Column: "time", Kind: KindTime, Nullable: true},
			{Name: "language", Column: "language_id", Kind: KindForeignKey, Nullable: true},
			{Name: "sentiment", Column: "sentiment_id", Kind: KindForeignKey, Nullable: true},
			{Name: "contains_hashtag", Column: "contains_hashtag", Kind: KindBool},
			{Name: "contains_url", Column: "contains_url", Kind: KindBool},
			{Name: "contains_media", Column: "contains_media", Kind: KindBool},
			{Name: "contains_mention", Column: "contains_mention", Kind: KindBool},
			{Name: "text", Column: "text", Kind: KindString},
		}, M2M: []ManyToMany{
			{Name: "topics", Table: "message_topics", OwnerColumn: "message_id", TargetColumn: "topic_id"},
			{Name: "urls", Table: "message_urls", OwnerColumn: "message_id", TargetColumn: "url_id"},
			{Name: "hashtags", Table: "message_hashtags", OwnerColumn: "message_id", TargetColumn: "hashtag_id"},
			{Name: "media", Table: "message_media", OwnerColumn: "message_id", TargetColumn: "media_id"},
			{Name: "mentions", Table: "message_mentions", OwnerColumn: "message_id", TargetColumn: "person_id"},
		}},
	)
}
