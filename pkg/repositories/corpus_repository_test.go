//go:build integration

package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/testhelpers"
)

// corpusTestContext holds test dependencies for corpus repository tests.
type corpusTestContext struct {
	t        *testing.T
	testDB   *testhelpers.TestDB
	ctx      context.Context
	datasets DatasetRepository
	people   PersonRepository
	messages MessageRepository
	lookups  LookupRepository
}

func setupCorpusTest(t *testing.T) *corpusTestContext {
	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)
	return &corpusTestContext{
		t:        t,
		testDB:   testDB,
		ctx:      testDB.Context(),
		datasets: NewDatasetRepository(),
		people:   NewPersonRepository(),
		messages: NewMessageRepository(),
		lookups:  NewLookupRepository(),
	}
}

func (tc *corpusTestContext) createDataset(name string) *models.Dataset {
	tc.t.Helper()
	d := &models.Dataset{Name: name, Description: "test"}
	require.NoError(tc.t, tc.datasets.Create(tc.ctx, d))
	return d
}

func (tc *corpusTestContext) createPerson(datasetID, originalID int64, username string) *models.Person {
	tc.t.Helper()
	p := &models.Person{DatasetID: datasetID, OriginalID: &originalID, Username: &username}
	require.NoError(tc.t, tc.people.Upsert(tc.ctx, p))
	return p
}

func TestDatasetRepository_CreateGetDelete(t *testing.T) {
	tc := setupCorpusTest(t)

	d := tc.createDataset("election")
	assert.NotZero(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	got, err := tc.datasets.GetByID(tc.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "election", got.Name)

	list, err := tc.datasets.List(tc.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(0), list[0].MessageCount)

	require.NoError(t, tc.datasets.Delete(tc.ctx, d.ID))
	_, err = tc.datasets.GetByID(tc.ctx, d.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.True(t, errors.Is(tc.datasets.Delete(tc.ctx, d.ID), apperrors.ErrNotFound))
}

func TestPersonRepository_UpsertMergesByOriginalID(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("people")

	first := &models.Person{DatasetID: d.ID, OriginalID: ptr(int64(99)), Username: ptr("alice"), FollowerCount: 10}
	require.NoError(t, tc.people.Upsert(tc.ctx, first))

	// A mention carries no counts and no full name
	second := &models.Person{DatasetID: d.ID, OriginalID: ptr(int64(99)), FullName: ptr("Alice A.")}
	require.NoError(t, tc.people.Upsert(tc.ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := tc.people.GetByID(tc.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", *got.Username)
	assert.Equal(t, "Alice A.", *got.FullName)
	assert.Equal(t, 10, got.FollowerCount)

	require.NoError(t, tc.people.AddCounters(tc.ctx, first.ID, models.PersonCounters{Mentioned: 2, Shared: 1}))
	got, err = tc.people.GetByID(tc.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MentionedCount)
	assert.Equal(t, 1, got.SharedCount)

	people, total, err := tc.people.ListByDataset(tc.ctx, d.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, people, 1)
}

func TestMessageRepository_CreateDerivesFlagsAndSkipsDuplicates(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("messages")
	sender := tc.createPerson(d.ID, 1, "sender")
	mentioned := tc.createPerson(d.ID, 2, "mentioned")

	tagID, err := tc.lookups.EnsureHashtag(tc.ctx, "go")
	require.NoError(t, err)
	tagAgain, err := tc.lookups.EnsureHashtag(tc.ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, tagID, tagAgain, "EnsureHashtag must be idempotent")

	langID, err := tc.lookups.EnsureLanguage(tc.ctx, "en")
	require.NoError(t, err)

	when := time.Date(2015, 3, 1, 12, 30, 0, 0, time.UTC)
	msg := &models.Message{
		DatasetID:  d.ID,
		OriginalID: ptr(int64(1000)),
		SenderID:   &sender.ID,
		LanguageID: &langID,
		Time:       &when,
		Text:       "hello #go @mentioned",
		HashtagIDs: []int64{tagID, tagID},
		MentionIDs: []int64{mentioned.ID},
	}
	created, err := tc.messages.Create(tc.ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, msg.ContainsHashtag)
	assert.True(t, msg.ContainsMention)
	assert.False(t, msg.ContainsURL)

	dup := &models.Message{DatasetID: d.ID, OriginalID: ptr(int64(1000)), Text: "again"}
	created, err = tc.messages.Create(tc.ctx, dup)
	require.NoError(t, err)
	assert.False(t, created, "same original id in the same dataset is a duplicate")

	detail, err := tc.messages.GetDetail(tc.ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, detail.Hashtags, 1, "duplicate link ids collapse to one row")
	assert.Equal(t, "go", detail.Hashtags[0].Text)
	require.Len(t, detail.Mentions, 1)
	assert.Equal(t, "mentioned", *detail.Mentions[0].Username)
	require.NotNil(t, detail.Language)
	assert.Equal(t, "en", detail.Language.Code)
	require.NotNil(t, detail.Sender)
	assert.Equal(t, sender.ID, detail.Sender.ID)

	_, err = tc.messages.GetDetail(tc.ctx, msg.ID+1000)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestMessageRepository_ListFilters(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("list")
	tagID, err := tc.lookups.EnsureHashtag(tc.ctx, "Vote")
	require.NoError(t, err)

	for i, text := range []string{"vote today", "nothing here", "go VOTE"} {
		msg := &models.Message{DatasetID: d.ID, OriginalID: ptr(int64(i + 1)), Text: text}
		if i != 1 {
			msg.HashtagIDs = []int64{tagID}
		}
		_, err := tc.messages.Create(tc.ctx, msg)
		require.NoError(t, err)
	}

	all, total, err := tc.messages.List(tc.ctx, models.MessageFilter{DatasetID: d.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	byText, total, err := tc.messages.List(tc.ctx, models.MessageFilter{DatasetID: d.ID, Query: "vote"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, byText, 2)

	byTag, total, err := tc.messages.List(tc.ctx, models.MessageFilter{DatasetID: d.ID, Hashtag: "#vote"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, byTag, 2)

	page, total, err := tc.messages.List(tc.ctx, models.MessageFilter{DatasetID: d.ID, Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 1)
}

func TestMessageRepository_RefreshFlags(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("flags")

	msg := &models.Message{DatasetID: d.ID, Text: "plain"}
	_, err := tc.messages.Create(tc.ctx, msg)
	require.NoError(t, err)

	// Link a URL behind the repository's back, leaving the cached flag stale
	urlID, err := tc.lookups.EnsureURL(tc.ctx, &models.URL{Domain: "example.com", FullURL: "https://example.com/a"})
	require.NoError(t, err)
	_, err = tc.testDB.DB.Pool.Exec(context.Background(),
		`INSERT INTO message_urls (message_id, url_id) VALUES ($1, $2)`, msg.ID, urlID)
	require.NoError(t, err)

	changed, err := tc.messages.RefreshFlags(tc.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	detail, err := tc.messages.GetDetail(tc.ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, detail.ContainsURL)

	changed, err = tc.messages.RefreshFlags(tc.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed, "second refresh finds nothing stale")
}

func TestMessageRepository_CountByDimension(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("dims")

	en, err := tc.lookups.EnsureLanguage(tc.ctx, "en")
	require.NoError(t, err)
	es, err := tc.lookups.EnsureLanguage(tc.ctx, "es")
	require.NoError(t, err)

	t1 := time.Date(2015, 1, 1, 10, 5, 0, 0, time.UTC)
	t2 := time.Date(2015, 1, 1, 10, 55, 0, 0, time.UTC)
	for _, m := range []*models.Message{
		{DatasetID: d.ID, LanguageID: &en, Time: &t1},
		{DatasetID: d.ID, LanguageID: &en, Time: &t2},
		{DatasetID: d.ID, LanguageID: &es},
		{DatasetID: d.ID},
	} {
		_, err := tc.messages.Create(tc.ctx, m)
		require.NoError(t, err)
	}

	buckets, err := tc.messages.CountByDimension(tc.ctx, d.ID, models.DimensionLanguage)
	require.NoError(t, err)
	assert.Equal(t, []models.Bucket{{Value: "en", Count: 2}, {Value: "", Count: 1}, {Value: "es", Count: 1}}, buckets)

	hours, err := tc.messages.CountByDimension(tc.ctx, d.ID, models.DimensionHour)
	require.NoError(t, err)
	assert.Equal(t, []models.Bucket{{Value: "2015-01-01T10:00:00Z", Count: 2}}, hours)

	tags, err := tc.messages.CountByDimension(tc.ctx, d.ID, models.DimensionHashtag)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestLookupRepository_EnsureURLAcceptsLongURLs(t *testing.T) {
	tc := setupCorpusTest(t)

	// Far beyond the ~2.7kB btree row limit.
	long := "https://example.com/r?q=" + strings.Repeat("a", 10_000)

	first := &models.URL{Domain: "example.com", FullURL: long}
	id, err := tc.lookups.EnsureURL(tc.ctx, first)
	require.NoError(t, err)

	second := &models.URL{Domain: "example.com", ShortURL: "https://t.co/x", FullURL: long}
	again, err := tc.lookups.EnsureURL(tc.ctx, second)
	require.NoError(t, err)
	assert.Equal(t, id, again, "the same full URL resolves to one row")

	var shortURL string
	require.NoError(t, tc.testDB.DB.Pool.QueryRow(context.Background(),
		`SELECT short_url FROM urls WHERE id = $1`, id).Scan(&shortURL))
	assert.Equal(t, "https://t.co/x", shortURL, "an empty short_url is filled in")

	other, err := tc.lookups.EnsureURL(tc.ctx, &models.URL{Domain: "example.com", FullURL: long + "b"})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestSchema_LinkTablesRejectDuplicatePairs(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("schema")

	msg := &models.Message{DatasetID: d.ID}
	_, err := tc.messages.Create(tc.ctx, msg)
	require.NoError(t, err)
	tagID, err := tc.lookups.EnsureHashtag(tc.ctx, "dup")
	require.NoError(t, err)

	pool := tc.testDB.DB.Pool
	_, err = pool.Exec(context.Background(), `INSERT INTO message_hashtags VALUES ($1, $2)`, msg.ID, tagID)
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(), `INSERT INTO message_hashtags VALUES ($1, $2)`, msg.ID, tagID)
	assert.Error(t, err, "composite primary key must reject the second pair")

	_, err = pool.Exec(context.Background(), `INSERT INTO messages (dataset_id, text) VALUES (NULL, 'orphan')`)
	assert.Error(t, err, "messages must belong to a dataset")

	p := tc.createPerson(d.ID, 5, "negative")
	_, err = pool.Exec(context.Background(), `UPDATE people SET shared_count = -1 WHERE id = $1`, p.ID)
	assert.Error(t, err, "counters must be non-negative")
}

func TestSchema_DeletingDatasetCascades(t *testing.T) {
	tc := setupCorpusTest(t)
	d := tc.createDataset("cascade")
	p := tc.createPerson(d.ID, 1, "gone")
	_, err := tc.messages.Create(tc.ctx, &models.Message{DatasetID: d.ID, SenderID: &p.ID})
	require.NoError(t, err)

	require.NoError(t, tc.datasets.Delete(tc.ctx, d.ID))

	var people, messages int
	pool := tc.testDB.DB.Pool
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM people`).Scan(&people))
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM messages`).Scan(&messages))
	assert.Zero(t, people)
	assert.Zero(t, messages)
}

func ptr[T any](v T) *T {
	return &v
}
