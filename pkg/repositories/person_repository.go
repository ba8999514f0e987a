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

// PersonRepository provides data access for people within a dataset.
type PersonRepository interface {
	// Upsert inserts the person, or merges it into the existing row with the
	// same (dataset, original id). Sets person.ID.
	Upsert(ctx context.Context, person *models.Person) error
	AddCounters(ctx context.Context, personID int64, delta models.PersonCounters) error
	GetByID(ctx context.Context, id int64) (*models.Person, error)
	ListByDataset(ctx context.Context, datasetID int64, limit, offset int) ([]*models.Person, int64, error)
}

type personRepository struct{}

// NewPersonRepository creates a new PersonRepository.
func NewPersonRepository() PersonRepository {
	return &personRepository{}
}

var _ PersonRepository = (*personRepository)(nil)

const personColumns = `id, dataset_id, original_id, username, full_name, language_id,
	replied_to_count, shared_count, mentioned_count, friend_count, follower_count`

func (r *personRepository) Upsert(ctx context.Context, person *models.Person) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	// Counts from a mention carry zeros; GREATEST keeps the best known value.
	query := `
		INSERT INTO people (
			dataset_id, original_id, username, full_name, language_id,
			friend_count, follower_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dataset_id, original_id) WHERE original_id IS NOT NULL DO UPDATE
		SET username = COALESCE(EXCLUDED.username, people.username),
		    full_name = COALESCE(EXCLUDED.full_name, people.full_name),
		    language_id = COALESCE(EXCLUDED.language_id, people.language_id),
		    friend_count = GREATEST(EXCLUDED.friend_count, people.friend_count),
		    follower_count = GREATEST(EXCLUDED.follower_count, people.follower_count)
		RETURNING id`

	err := q.QueryRow(ctx, query,
		person.DatasetID,
		person.OriginalID,
		person.Username,
		person.FullName,
		person.LanguageID,
		person.FriendCount,
		person.FollowerCount,
	).Scan(&person.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}

	return nil
}

func (r *personRepository) AddCounters(ctx context.Context, personID int64, delta models.PersonCounters) error {
	if delta.IsZero() {
		return nil
	}

	q, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE people
		SET replied_to_count = replied_to_count + $2,
		    shared_count = shared_count + $3,
		    mentioned_count = mentioned_count + $4
		WHERE id = $1`

	result, err := q.Exec(ctx, query, personID, delta.RepliedTo, delta.Shared, delta.Mentioned)
	if err != nil {
		return fmt.Errorf("failed to update person counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *personRepository) GetByID(ctx context.Context, id int64) (*models.Person, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := q.QueryRow(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, id)
	person, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}

	return person, nil
}

func (r *personRepository) ListByDataset(ctx context.Context, datasetID int64, limit, offset int) ([]*models.Person, int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("no database scope in context")
	}

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM people WHERE dataset_id = $1`, datasetID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count people: %w", err)
	}

	query := `SELECT ` + personColumns + `
		FROM people
		WHERE dataset_id = $1
		ORDER BY follower_count DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, query, datasetID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query people: %w", err)
	}
	defer rows.Close()

	people, err := collectPeople(rows)
	if err != nil {
		return nil, 0, err
	}
	return people, total, nil
}

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	err := row.Scan(
		&p.ID, &p.DatasetID, &p.OriginalID, &p.Username, &p.FullName, &p.LanguageID,
		&p.RepliedToCount, &p.SharedCount, &p.MentionedCount, &p.FriendCount, &p.FollowerCount,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPeople(rows pgx.Rows) ([]*models.Person, error) {
	var people []*models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating people: %w", err)
	}
	return people, nil
}
