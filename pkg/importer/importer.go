// Package importer bulk-loads JSON-lines message exports into a new dataset.
package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/database"
	"github.com/msgvis/msgvis/pkg/metrics"
	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/repositories"
	"github.com/msgvis/msgvis/pkg/retry"
	"github.com/msgvis/msgvis/pkg/workerpool"
)

// Record outcomes, also used as metric labels.
const (
	OutcomeImported  = "imported"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

const (
	defaultBatchSize    = 256
	defaultMaxLineBytes = 1 << 20
)

// Options describe one import.
type Options struct {
	DatasetName string
	Description string
	// MaxLineBytes bounds a single input line. Longer lines abort the import.
	MaxLineBytes int
	// BatchSize is how many lines are handed to the worker pool at once.
	BatchSize int
}

// Importer writes parsed records through the corpus repositories, one
// transaction per record.
type Importer struct {
	db       database.ScopeProvider
	datasets repositories.DatasetRepository
	people   repositories.PersonRepository
	messages repositories.MessageRepository
	lookups  repositories.LookupRepository
	pool     *workerpool.Pool
	retry    *retry.Config
	logger   *zap.Logger
}

// New creates an importer.
func New(
	db database.ScopeProvider,
	datasets repositories.DatasetRepository,
	people repositories.PersonRepository,
	messages repositories.MessageRepository,
	lookups repositories.LookupRepository,
	pool *workerpool.Pool,
	logger *zap.Logger,
) *Importer {
	return &Importer{
		db:       db,
		datasets: datasets,
		people:   people,
		messages: messages,
		lookups:  lookups,
		pool:     pool,
		retry:    retry.DefaultConfig(),
		logger:   logger.Named("importer"),
	}
}

// ImportFile imports the file at path. Files ending in .gz are decompressed.
func (imp *Importer) ImportFile(ctx context.Context, path string, opts Options) (*models.ImportRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	run, err := imp.Import(ctx, r, opts)
	if run != nil {
		run.Source = path
	}
	return run, err
}

// Import creates a dataset and imports every line of r into it. Bad lines are
// skipped and failed records are counted; neither stops the import. The run
// summary is returned even when the import is interrupted.
func (imp *Importer) Import(ctx context.Context, r io.Reader, opts Options) (*models.ImportRun, error) {
	name := strings.TrimSpace(opts.DatasetName)
	if name == "" || len([]rune(name)) > models.MaxDatasetNameLen {
		return nil, fmt.Errorf("%w: dataset name must be 1-%d characters", apperrors.ErrInvalidArgs, models.MaxDatasetNameLen)
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	dataset := &models.Dataset{Name: name, Description: opts.Description}
	if err := imp.createDataset(ctx, dataset); err != nil {
		return nil, err
	}

	run := &models.ImportRun{
		ID:        uuid.New(),
		DatasetID: dataset.ID,
		StartedAt: time.Now().UTC(),
	}
	logger := imp.logger.With(zap.String("run_id", run.ID.String()), zap.Int64("dataset_id", dataset.ID))
	logger.Info("Import started", zap.String("dataset", name), zap.Int("workers", imp.pool.MaxConcurrent()))

	batches := make(chan []line, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		return readLines(gctx, r, opts.MaxLineBytes, opts.BatchSize, batches)
	})

	g.Go(func() error {
		for batch := range batches {
			run.Read += len(batch)
			imp.processBatch(gctx, dataset.ID, batch, run, logger)
			if err := gctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	run.Duration = time.Since(run.StartedAt)

	fields := []zap.Field{
		zap.Int("read", run.Read),
		zap.Int("imported", run.Imported),
		zap.Int("duplicates", run.Duplicates),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", run.Duration),
	}
	if err != nil {
		logger.Error("Import interrupted", append(fields, zap.Error(err))...)
		return run, fmt.Errorf("import interrupted after %d lines: %w", run.Read, err)
	}
	logger.Info("Import finished", fields...)
	return run, nil
}

func (imp *Importer) createDataset(ctx context.Context, dataset *models.Dataset) error {
	scoped, cleanup, err := imp.db.WithScope(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := imp.datasets.Create(scoped, dataset); err != nil {
		return err
	}
	return nil
}

type line struct {
	number int
	data   []byte
}

// readLines sends batches of non-blank lines until EOF, a read error or cancellation.
func readLines(ctx context.Context, r io.Reader, maxLineBytes, batchSize int, out chan<- []line) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineBytes)), maxLineBytes)

	batch := make([]line, 0, batchSize)
	send := func() error {
		select {
		case out <- batch:
			batch = make([]line, 0, batchSize)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	n := 0
	for scanner.Scan() {
		n++
		data := scanner.Bytes()
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		batch = append(batch, line{number: n, data: append([]byte(nil), data...)})
		if len(batch) == batchSize {
			if err := send(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read line %d: %w", n+1, err)
	}
	if len(batch) > 0 {
		return send()
	}
	return nil
}

func (imp *Importer) processBatch(ctx context.Context, datasetID int64, batch []line, run *models.ImportRun, logger *zap.Logger) {
	items := make([]workerpool.Item[string], len(batch))
	for i, l := range batch {
		items[i] = workerpool.Item[string]{
			ID: fmt.Sprintf("line %d", l.number),
			Execute: func(ctx context.Context) (string, error) {
				return imp.importLine(ctx, datasetID, l.data)
			},
		}
	}

	for _, res := range workerpool.Process(ctx, imp.pool, items, nil) {
		outcome := res.Result
		if outcome == "" {
			outcome = OutcomeFailed
		}

		switch outcome {
		case OutcomeImported:
			run.Imported++
		case OutcomeDuplicate:
			run.Duplicates++
		case OutcomeSkipped:
			run.Skipped++
			if !errors.Is(res.Err, ErrNotMessage) {
				logger.Debug("Skipped line", zap.String("item", res.ID), zap.Error(res.Err))
			}
		default:
			run.Failed++
			logger.Warn("Failed to import line", zap.String("item", res.ID), zap.Error(res.Err))
		}
		metrics.IncImport(outcome)
	}
}

// importLine parses and stores one line, retrying transient database errors.
func (imp *Importer) importLine(ctx context.Context, datasetID int64, data []byte) (string, error) {
	rec, err := ParseTweet(data)
	if err != nil {
		return OutcomeSkipped, err
	}

	var created bool
	err = retry.DoIfRetryable(ctx, imp.retry, func() error {
		return imp.db.InTx(ctx, func(ctx context.Context) error {
			var err error
			created, err = imp.store(ctx, datasetID, rec)
			return err
		})
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !created {
		return OutcomeDuplicate, nil
	}
	return OutcomeImported, nil
}

// BuildMessage resolves a record's lookups and people into a message ready
// to insert. Contains* flags follow the relationship sets.
func (imp *Importer) BuildMessage(ctx context.Context, datasetID int64, rec *Record) (*models.Message, error) {
	msg := &models.Message{
		DatasetID:  datasetID,
		OriginalID: rec.OriginalID,
		Time:       rec.Time,
		Text:       rec.Text,
	}

	typeID, err := imp.lookups.EnsureMessageType(ctx, rec.Type)
	if err != nil {
		return nil, err
	}
	msg.TypeID = &typeID

	if rec.Language != "" {
		langID, err := imp.lookups.EnsureLanguage(ctx, rec.Language)
		if err != nil {
			return nil, err
		}
		msg.LanguageID = &langID
	}

	if rec.Sender != nil {
		sender, err := imp.upsertPerson(ctx, datasetID, rec.Sender)
		if err != nil {
			return nil, err
		}
		msg.SenderID = &sender.ID
	}

	for _, tag := range rec.Hashtags {
		id, err := imp.lookups.EnsureHashtag(ctx, tag)
		if err != nil {
			return nil, err
		}
		msg.HashtagIDs = append(msg.HashtagIDs, id)
	}

	for i := range rec.URLs {
		id, err := imp.lookups.EnsureURL(ctx, &rec.URLs[i])
		if err != nil {
			return nil, err
		}
		msg.URLIDs = append(msg.URLIDs, id)
	}

	for i := range rec.Media {
		id, err := imp.lookups.EnsureMedia(ctx, &rec.Media[i])
		if err != nil {
			return nil, err
		}
		msg.MediaIDs = append(msg.MediaIDs, id)
	}

	for i := range rec.Mentions {
		p, err := imp.upsertPerson(ctx, datasetID, &rec.Mentions[i])
		if err != nil {
			return nil, err
		}
		msg.MentionIDs = append(msg.MentionIDs, p.ID)
	}

	msg.SyncFlags()
	return msg, nil
}

// store inserts the record's message and, if it is new, bumps the
// engagement counters of the people it mentions, replies to or shares.
func (imp *Importer) store(ctx context.Context, datasetID int64, rec *Record) (bool, error) {
	msg, err := imp.BuildMessage(ctx, datasetID, rec)
	if err != nil {
		return false, err
	}

	created, err := imp.messages.Create(ctx, msg)
	if err != nil || !created {
		return false, err
	}

	for _, id := range msg.MentionIDs {
		if err := imp.people.AddCounters(ctx, id, models.PersonCounters{Mentioned: 1}); err != nil {
			return false, err
		}
	}

	if rec.RepliedTo != nil {
		p, err := imp.upsertPerson(ctx, datasetID, rec.RepliedTo)
		if err != nil {
			return false, err
		}
		if err := imp.people.AddCounters(ctx, p.ID, models.PersonCounters{RepliedTo: 1}); err != nil {
			return false, err
		}
	}

	if rec.SharedFrom != nil {
		p, err := imp.upsertPerson(ctx, datasetID, rec.SharedFrom)
		if err != nil {
			return false, err
		}
		if err := imp.people.AddCounters(ctx, p.ID, models.PersonCounters{Shared: 1}); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (imp *Importer) upsertPerson(ctx context.Context, datasetID int64, ref *PersonRef) (*models.Person, error) {
	originalID := ref.OriginalID
	p := &models.Person{
		DatasetID:     datasetID,
		OriginalID:    &originalID,
		FriendCount:   ref.FriendCount,
		FollowerCount: ref.FollowerCount,
	}
	if ref.Username != "" {
		username := ref.Username
		p.Username = &username
	}
	if ref.FullName != "" {
		fullName := ref.FullName
		p.FullName = &fullName
	}
	if ref.Language != "" {
		langID, err := imp.lookups.EnsureLanguage(ctx, ref.Language)
		if err != nil {
			return nil, err
		}
		p.LanguageID = &langID
	}

	if err := imp.people.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
