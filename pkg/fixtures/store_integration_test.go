//go:build integration

package fixtures

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/testhelpers"
)

// Children come before their parents to exercise deferred constraints.
const corpusFixture = `[
  {"model": "corpus.message", "pk": 5, "fields": {
    "dataset": 10, "sender": 3, "type": 1, "text": "hello #go #sql",
    "time": "2015-02-03T04:05:06.123Z",
    "hashtags": [2, 1], "mentions": [3]
  }},
  {"model": "corpus.person", "pk": 3, "fields": {"dataset": 10, "original_id": 42, "username": "gopher"}},
  {"model": "corpus.hashtag", "pk": 1, "fields": {"text": "go"}},
  {"model": "corpus.hashtag", "pk": 2, "fields": {"text": "sql"}},
  {"model": "corpus.messagetype", "pk": 1, "fields": {"name": "original"}},
  {"model": "corpus.dataset", "pk": 10, "fields": {"name": "sample", "description": "", "created_at": "2015-01-01T00:00:00Z"}}
]`

func setupStore(t *testing.T) (*Store, *testhelpers.TestDB) {
	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)
	return NewStore(testDB.DB, CorpusRegistry(), zap.NewNop()), testDB
}

func mustDecode(t *testing.T, doc string) []Object {
	t.Helper()
	objs, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	return objs
}

func TestStore_LoadAndDump(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	result, err := store.Load(ctx, mustDecode(t, corpusFixture))
	require.NoError(t, err)
	assert.Equal(t, 6, result.Objects)
	assert.Len(t, result.Models, 5)

	r := store.Registry()
	msgModel, _ := r.Lookup("corpus.message")
	dumped, err := store.Dump(ctx, []*Model{msgModel})
	require.NoError(t, err)
	require.Len(t, dumped, 1)

	msg := dumped[0]
	assert.Equal(t, "corpus.message", msg.Model)
	assert.Equal(t, int64(5), msg.PK)
	assert.JSONEq(t, `[1, 2]`, string(msg.Fields["hashtags"]), "links dump in id order")
	assert.JSONEq(t, `[3]`, string(msg.Fields["mentions"]))
	assert.JSONEq(t, `[]`, string(msg.Fields["topics"]))
	assert.JSONEq(t, `"2015-02-03T04:05:06.123Z"`, string(msg.Fields["time"]))
	assert.JSONEq(t, `null`, string(msg.Fields["language"]))
	assert.JSONEq(t, `false`, string(msg.Fields["contains_hashtag"]), "flags load as written")
}

func TestStore_LoadIsIdempotentAndReplacesLinks(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, mustDecode(t, corpusFixture))
	require.NoError(t, err)

	update := `[{"model": "corpus.message", "pk": 5, "fields": {"text": "edited", "hashtags": [2]}}]`
	_, err = store.Load(ctx, mustDecode(t, update))
	require.NoError(t, err)

	msgModel, _ := store.Registry().Lookup("corpus.message")
	dumped, err := store.Dump(ctx, []*Model{msgModel})
	require.NoError(t, err)
	require.Len(t, dumped, 1)
	assert.JSONEq(t, `"edited"`, string(dumped[0].Fields["text"]))
	assert.JSONEq(t, `[2]`, string(dumped[0].Fields["hashtags"]))
	assert.JSONEq(t, `[3]`, string(dumped[0].Fields["mentions"]), "links absent from the object are untouched")
	assert.JSONEq(t, `10`, string(dumped[0].Fields["dataset"]), "omitted columns keep their values")
}

func TestStore_SyncDeletesMissingRows(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, mustDecode(t, corpusFixture))
	require.NoError(t, err)

	result, err := store.Sync(ctx, mustDecode(t, `[{"model": "corpus.hashtag", "pk": 2, "fields": {"text": "postgres"}}]`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted)

	hashtags, _ := store.Registry().Lookup("corpus.hashtag")
	dumped, err := store.Dump(ctx, []*Model{hashtags})
	require.NoError(t, err)
	require.Len(t, dumped, 1)
	assert.JSONEq(t, `"postgres"`, string(dumped[0].Fields["text"]))

	datasets, _ := store.Registry().Lookup("corpus.dataset")
	dumped, err = store.Dump(ctx, []*Model{datasets})
	require.NoError(t, err)
	assert.Len(t, dumped, 1, "models absent from the fixture are not pruned")
}

func TestStore_LoadResetsSequences(t *testing.T) {
	store, testDB := setupStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, mustDecode(t, corpusFixture))
	require.NoError(t, err)

	var id int64
	err = testDB.DB.Pool.QueryRow(ctx, "INSERT INTO datasets (name) VALUES ('next') RETURNING id").Scan(&id)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestStore_LoadRollsBackOnError(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	broken := `[
	  {"model": "corpus.hashtag", "pk": 1, "fields": {"text": "go"}},
	  {"model": "corpus.person", "pk": 3, "fields": {"dataset": 999}}
	]`
	_, err := store.Load(ctx, mustDecode(t, broken))
	require.Error(t, err, "dangling foreign key fails at commit")

	hashtags, _ := store.Registry().Lookup("corpus.hashtag")
	dumped, err := store.Dump(ctx, []*Model{hashtags})
	require.NoError(t, err)
	assert.Empty(t, dumped)
}

func TestStore_UnknownModel(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Load(context.Background(), []Object{{Model: "auth.user", PK: 1, Fields: map[string]json.RawMessage{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}
