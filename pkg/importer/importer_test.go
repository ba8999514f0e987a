package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/retry"
	"github.com/msgvis/msgvis/pkg/workerpool"
)

// fakeScope runs transactions inline.
type fakeScope struct{}

func (fakeScope) WithScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func (fakeScope) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeDatasets struct {
	created []*models.Dataset
}

func (f *fakeDatasets) Create(_ context.Context, d *models.Dataset) error {
	d.ID = int64(len(f.created) + 1)
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDatasets) GetByID(context.Context, int64) (*models.Dataset, error) {
	return nil, apperrors.ErrNotFound
}

func (f *fakeDatasets) List(context.Context) ([]*models.DatasetSummary, error) { return nil, nil }
func (f *fakeDatasets) Delete(context.Context, int64) error { return nil }

type fakeLookups struct {
	mu  sync.Mutex
	ids map[string]int64
}

func newFakeLookups() *fakeLookups {
	return &fakeLookups{ids: make(map[string]int64)}
}

func (f *fakeLookups) ensure(key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.ids[key]; ok {
		return id, nil
	}
	id := int64(len(f.ids) + 1)
	f.ids[key] = id
	return id, nil
}

func (f *fakeLookups) EnsureLanguage(_ context.Context, code string) (int64, error) {
	return f.ensure("language:" + code)
}

func (f *fakeLookups) EnsureMessageType(_ context.Context, name string) (int64, error) {
	return f.ensure("type:" + name)
}

func (f *fakeLookups) EnsureHashtag(_ context.Context, text string) (int64, error) {
	return f.ensure("hashtag:" + text)
}

func (f *fakeLookups) EnsureURL(_ context.Context, u *models.URL) (int64, error) {
	return f.ensure("url:" + u.FullURL)
}

func (f *fakeLookups) EnsureMedia(_ context.Context, m *models.Media) (int64, error) {
	return f.ensure("media:" + m.MediaURL)
}

type fakePeople struct {
	mu         sync.Mutex
	byOriginal map[int64]*models.Person
	counters   map[int64]models.PersonCounters
}

func newFakePeople() *fakePeople {
	return &fakePeople{byOriginal: make(map[int64]*models.Person), counters: make(map[int64]models.PersonCounters)}
}

func (f *fakePeople) Upsert(_ context.Context, p *models.Person) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byOriginal[*p.OriginalID]; ok {
		p.ID = existing.ID
		return nil
	}
	p.ID = int64(len(f.byOriginal) + 1)
	f.byOriginal[*p.OriginalID] = p
	return nil
}

func (f *fakePeople) AddCounters(_ context.Context, id int64, delta models.PersonCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counters[id]
	c.RepliedTo += delta.RepliedTo
	c.Shared += delta.Shared
	c.Mentioned += delta.Mentioned
	f.counters[id] = c
	return nil
}

func (f *fakePeople) countersFor(originalID int64) models.PersonCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOriginal[originalID]
	if !ok {
		return models.PersonCounters{}
	}
	return f.counters[p.ID]
}

func (f *fakePeople) GetByID(context.Context, int64) (*models.Person, error) {
	return nil, apperrors.ErrNotFound
}

func (f *fakePeople) ListByDataset(context.Context, int64, int, int) ([]*models.Person, int64, error) {
	return nil, 0, nil
}

type fakeMessages struct {
	mu      sync.Mutex
	stored  map[int64]*models.Message
	failOn  map[int64]error
	failing map[int64]int // remaining failures per original id; negative fails forever
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		stored:  make(map[int64]*models.Message),
		failOn:  make(map[int64]error),
		failing: make(map[int64]int),
	}
}

func (f *fakeMessages) Create(_ context.Context, msg *models.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := *msg.OriginalID
	if err, ok := f.failOn[id]; ok && f.failing[id] != 0 {
		f.failing[id]--
		return false, err
	}
	if _, dup := f.stored[id]; dup {
		return false, nil
	}
	msg.ID = int64(len(f.stored) + 1)
	f.stored[id] = msg
	return true, nil
}

func (f *fakeMessages) get(originalID int64) *models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[originalID]
}

func (f *fakeMessages) GetDetail(context.Context, int64) (*models.MessageDetail, error) {
	return nil, apperrors.ErrNotFound
}

func (f *fakeMessages) List(context.Context, models.MessageFilter) ([]*models.Message, int64, error) {
	return nil, 0, nil
}

func (f *fakeMessages) RefreshFlags(context.Context, int64) (int64, error) { return 0, nil }

func (f *fakeMessages) CountByDimension(context.Context, int64, models.Dimension) ([]models.Bucket, error) {
	return nil, nil
}

type importerTestContext struct {
	importer *Importer
	datasets *fakeDatasets
	people   *fakePeople
	messages *fakeMessages
	lookups  *fakeLookups
}

func setupImporter(t *testing.T) *importerTestContext {
	t.Helper()
	tc := &importerTestContext{
		datasets: &fakeDatasets{},
		people:   newFakePeople(),
		messages: newFakeMessages(),
		lookups:  newFakeLookups(),
	}
	pool := workerpool.New(workerpool.Config{MaxConcurrent: 4}, zap.NewNop())
	tc.importer = New(fakeScope{}, tc.datasets, tc.people, tc.messages, tc.lookups, pool, zap.NewNop())
	tc.importer.retry = &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return tc
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sampleInput() string {
	return strings.Join([]string{
		oneLine(originalTweet),
		oneLine(replyTweet),
		"",
		oneLine(retweetTweet),
		oneLine(originalTweet),
		`{"delete": {"status": {"id_str": "9"}}}`,
		`{"id_str": "broken"`,
	}, "\n")
}

func TestImport_CountsOutcomes(t *testing.T) {
	tc := setupImporter(t)

	run, err := tc.importer.Import(context.Background(), strings.NewReader(sampleInput()), Options{DatasetName: "sample", BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(1), run.DatasetID)
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, 6, run.Read, "blank lines are not read as records")
	assert.Equal(t, 3, run.Imported)
	assert.Equal(t, 1, run.Duplicates)
	assert.Equal(t, 2, run.Skipped)
	assert.Equal(t, 0, run.Failed)

	require.Len(t, tc.datasets.created, 1)
	assert.Equal(t, "sample", tc.datasets.created[0].Name)
}

func TestImport_FlagsFollowRelationshipSets(t *testing.T) {
	tc := setupImporter(t)

	_, err := tc.importer.Import(context.Background(), strings.NewReader(sampleInput()), Options{DatasetName: "sample"})
	require.NoError(t, err)

	for _, id := range []int64{560070183650213889, 2, 3} {
		msg := tc.messages.get(id)
		require.NotNil(t, msg, "message %d", id)
		assert.Equal(t, len(msg.HashtagIDs) > 0, msg.ContainsHashtag, "message %d hashtag flag", id)
		assert.Equal(t, len(msg.URLIDs) > 0, msg.ContainsURL, "message %d url flag", id)
		assert.Equal(t, len(msg.MediaIDs) > 0, msg.ContainsMedia, "message %d media flag", id)
		assert.Equal(t, len(msg.MentionIDs) > 0, msg.ContainsMention, "message %d mention flag", id)
	}

	original := tc.messages.get(560070183650213889)
	assert.True(t, original.ContainsHashtag)
	assert.True(t, original.ContainsURL)
	assert.True(t, original.ContainsMention)
	assert.False(t, original.ContainsMedia)
	assert.Len(t, original.HashtagIDs, 2)
	require.NotNil(t, original.SenderID)
	require.NotNil(t, original.LanguageID)

	retweet := tc.messages.get(3)
	assert.True(t, retweet.ContainsMedia)
	assert.False(t, retweet.ContainsHashtag)
}

func TestImport_UpdatesPersonCounters(t *testing.T) {
	tc := setupImporter(t)

	_, err := tc.importer.Import(context.Background(), strings.NewReader(sampleInput()), Options{DatasetName: "sample"})
	require.NoError(t, err)

	assert.Equal(t, models.PersonCounters{Mentioned: 1}, tc.people.countersFor(200), "duplicate lines count once")
	assert.Equal(t, models.PersonCounters{RepliedTo: 1, Shared: 1}, tc.people.countersFor(100))
	assert.Equal(t, models.PersonCounters{}, tc.people.countersFor(300))
}

func TestImport_FailedRecordDoesNotStopImport(t *testing.T) {
	tc := setupImporter(t)
	tc.messages.failOn[2] = errors.New("check constraint violated")
	tc.messages.failing[2] = -1

	run, err := tc.importer.Import(context.Background(), strings.NewReader(sampleInput()), Options{DatasetName: "sample"})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.Imported)
	assert.Nil(t, tc.messages.get(2))
}

func TestImport_RetriesTransientErrors(t *testing.T) {
	tc := setupImporter(t)
	tc.messages.failOn[2] = &pgconn.PgError{Code: "40P01"}
	tc.messages.failing[2] = 2

	run, err := tc.importer.Import(context.Background(), strings.NewReader(sampleInput()), Options{DatasetName: "sample"})
	require.NoError(t, err)

	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, 3, run.Imported)
	assert.NotNil(t, tc.messages.get(2))
}

func TestImport_InvalidDatasetName(t *testing.T) {
	tc := setupImporter(t)

	for _, name := range []string{"", "   ", strings.Repeat("x", models.MaxDatasetNameLen+1)} {
		_, err := tc.importer.Import(context.Background(), strings.NewReader(""), Options{DatasetName: name})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidArgs))
	}
	assert.Empty(t, tc.datasets.created)
}

func TestImport_LineTooLong(t *testing.T) {
	tc := setupImporter(t)

	input := oneLine(replyTweet) + "\n" + `{"text": "` + strings.Repeat("a", 400) + `"}`
	run, err := tc.importer.Import(context.Background(), strings.NewReader(input), Options{DatasetName: "long", MaxLineBytes: 256})
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Contains(t, err.Error(), "failed to read line 2")
}

func TestImport_Cancelled(t *testing.T) {
	tc := setupImporter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := tc.importer.Import(ctx, strings.NewReader(sampleInput()), Options{DatasetName: "cancelled"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, run)
	assert.Zero(t, run.Imported)
}

func TestImportFile_Gzip(t *testing.T) {
	tc := setupImporter(t)
	path := filepath.Join(t.TempDir(), "tweets.jsonl.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(sampleInput()))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	run, err := tc.importer.ImportFile(context.Background(), path, Options{DatasetName: "gz"})
	require.NoError(t, err)
	assert.Equal(t, path, run.Source)
	assert.Equal(t, 3, run.Imported)
}

func TestImportFile_Missing(t *testing.T) {
	tc := setupImporter(t)
	_, err := tc.importer.ImportFile(context.Background(), filepath.Join(t.TempDir(), "none.jsonl"), Options{DatasetName: "x"})
	assert.Error(t, err)
}
