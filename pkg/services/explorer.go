package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/cache"
	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/repositories"
)

// ExplorerService provides the read-only views of the explorer API.
// Callers supply a database-scoped context.
type ExplorerService interface {
	ListDatasets(ctx context.Context) ([]*models.DatasetSummary, error)
	GetDataset(ctx context.Context, id int64) (*models.Dataset, error)

	// ListMessages returns one page of a dataset's messages. The filter's
	// limit and offset are clamped to the allowed page size.
	ListMessages(ctx context.Context, filter models.MessageFilter) (*MessagePage, error)
	ListPeople(ctx context.Context, datasetID int64, limit, offset int) (*PersonPage, error)
	GetMessage(ctx context.Context, id int64) (*models.MessageDetail, error)

	// Distribution counts a dataset's messages by dimension. Results are
	// cached; the cache is cleared by the clear_cache task.
	Distribution(ctx context.Context, datasetID int64, dim models.Dimension) (*models.Distribution, error)
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	Messages []*models.Message `json:"messages"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// PersonPage is one page of a person listing.
type PersonPage struct {
	People []*models.Person `json:"people"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type explorerService struct {
	datasets repositories.DatasetRepository
	people   repositories.PersonRepository
	messages repositories.MessageRepository
	cache    cache.Cache
	logger   *zap.Logger
}

// NewExplorerService creates a new ExplorerService. A nil cache disables caching.
func NewExplorerService(
	datasets repositories.DatasetRepository,
	people repositories.PersonRepository,
	messages repositories.MessageRepository,
	c cache.Cache,
	logger *zap.Logger,
) ExplorerService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &explorerService{
		datasets: datasets,
		people:   people,
		messages: messages,
		cache:    c,
		logger:   logger.Named("explorer-service"),
	}
}

var _ ExplorerService = (*explorerService)(nil)

func (s *explorerService) ListDatasets(ctx context.Context) ([]*models.DatasetSummary, error) {
	datasets, err := s.datasets.List(ctx)
	if err != nil {
		return nil, err
	}
	if datasets == nil {
		datasets = []*models.DatasetSummary{}
	}
	return datasets, nil
}

func (s *explorerService) GetDataset(ctx context.Context, id int64) (*models.Dataset, error) {
	return s.datasets.GetByID(ctx, id)
}

func (s *explorerService) ListMessages(ctx context.Context, filter models.MessageFilter) (*MessagePage, error) {
	if _, err := s.datasets.GetByID(ctx, filter.DatasetID); err != nil {
		return nil, err
	}

	filter.Normalize()
	messages, total, err := s.messages.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	return &MessagePage{Messages: messages, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *explorerService) ListPeople(ctx context.Context, datasetID int64, limit, offset int) (*PersonPage, error) {
	if _, err := s.datasets.GetByID(ctx, datasetID); err != nil {
		return nil, err
	}

	limit, offset = models.ClampPage(limit, offset)
	people, total, err := s.people.ListByDataset(ctx, datasetID, limit, offset)
	if err != nil {
		return nil, err
	}
	if people == nil {
		people = []*models.Person{}
	}

	return &PersonPage{People: people, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *explorerService) GetMessage(ctx context.Context, id int64) (*models.MessageDetail, error) {
	return s.messages.GetDetail(ctx, id)
}

func (s *explorerService) Distribution(ctx context.Context, datasetID int64, dim models.Dimension) (*models.Distribution, error) {
	dataset, err := s.datasets.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	key := cache.DimensionKey(datasetID, dataset.CreatedAt, string(dim))

	var cached models.Distribution
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		// The cache is an optimization; fall through to the database.
		s.logger.Warn("Failed to read distribution cache", zap.String("key", key), zap.Error(err))
	}
	if found {
		return &cached, nil
	}

	buckets, err := s.messages.CountByDimension(ctx, datasetID, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", dim, err)
	}
	if buckets == nil {
		buckets = []models.Bucket{}
	}

	dist := &models.Distribution{DatasetID: datasetID, Dimension: dim, Buckets: buckets}
	if err := s.cache.Set(ctx, key, dist); err != nil {
		s.logger.Warn("Failed to write distribution cache", zap.String("key", key), zap.Error(err))
	}
	return dist, nil
}
