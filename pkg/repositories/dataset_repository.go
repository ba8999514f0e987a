package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/database"
	"github.com/msgvis/msgvis/pkg/models"
)

// DatasetRepository provides data access for datasets.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *models.Dataset) error
	GetByID(ctx context.Context, id int64) (*models.Dataset, error)
	List(ctx context.Context) ([]*models.DatasetSummary, error)
	Delete(ctx context.Context, id int64) error
}

type datasetRepository struct{}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository() DatasetRepository {
	return &datasetRepository{}
}

var _ DatasetRepository = (*datasetRepository)(nil)

func (r *datasetRepository) Create(ctx context.Context, dataset *models.Dataset) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	query := `
		INSERT INTO datasets (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at`

	err := q.QueryRow(ctx, query, dataset.Name, dataset.Description).
		Scan(&dataset.ID, &dataset.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	return nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id int64) (*models.Dataset, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT id, name, description, created_at FROM datasets WHERE id = $1`

	var d models.Dataset
	err := q.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return &d, nil
}

func (r *datasetRepository) List(ctx context.Context) ([]*models.DatasetSummary, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT d.id, d.name, d.description, d.created_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.dataset_id = d.id),
		       (SELECT COUNT(*) FROM people p WHERE p.dataset_id = d.id)
		FROM datasets d
		ORDER BY d.created_at DESC, d.id DESC`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*models.DatasetSummary
	for rows.Next() {
		var s models.DatasetSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.MessageCount, &s.PersonCount); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}

	return datasets, nil
}

func (r *datasetRepository) Delete(ctx context.Context, id int64) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	result, err := q.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}
