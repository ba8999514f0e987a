package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/database"
)

// LoadResult reports what a load or sync changed.
type LoadResult struct {
	Objects int
	Deleted int64
	Models  []string
}

// Store dumps and loads fixtures against the database.
type Store struct {
	db       database.ScopeProvider
	registry *Registry
	logger   *zap.Logger
}

// NewStore creates a fixture store over the given registry.
func NewStore(db database.ScopeProvider, registry *Registry, logger *zap.Logger) *Store {
	return &Store{
		db:       db,
		registry: registry,
		logger:   logger.Named("fixtures"),
	}
}

// Registry returns the models this store knows about.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Dump serializes every row of the given models, in model order then pk order.
func (s *Store) Dump(ctx context.Context, models []*Model) ([]Object, error) {
	ctx, cleanup, err := s.db.WithScope(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var objs []Object
	for _, m := range models {
		dumped, err := dumpModel(ctx, q, m)
		if err != nil {
			return nil, err
		}
		objs = append(objs, dumped...)
		s.logger.Debug("Dumped model", zap.String("model", m.Label()), zap.Int("rows", len(dumped)))
	}
	return objs, nil
}

func dumpModel(ctx context.Context, q database.Querier, m *Model) ([]Object, error) {
	cols := make([]string, 0, len(m.Fields)+1)
	cols = append(cols, "id")
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(cols, ", "), m.Table)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to dump %s: %w", m.Label(), err)
	}

	var objs []Object
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read %s row: %w", m.Label(), err)
		}

		pk, err := toInt64(values[0])
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: primary key: %w", m.Label(), err)
		}

		obj := Object{Model: m.FixtureLabel(), PK: pk, Fields: make(map[string]json.RawMessage, len(m.Fields)+len(m.M2M))}
		for i := range m.Fields {
			raw, err := encodeValue(&m.Fields[i], values[i+1])
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("%s pk %d: %w", m.Label(), pk, err)
			}
			obj.Fields[m.Fields[i].Name] = raw
		}
		objs = append(objs, obj)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", m.Label(), err)
	}

	for _, link := range m.M2M {
		targets, err := dumpLinks(ctx, q, link)
		if err != nil {
			return nil, err
		}
		for i := range objs {
			ids := targets[objs[i].PK]
			if ids == nil {
				ids = []int64{}
			}
			raw, err := json.Marshal(ids)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s.%s: %w", m.Label(), link.Name, err)
			}
			objs[i].Fields[link.Name] = raw
		}
	}

	return objs, nil
}

func dumpLinks(ctx context.Context, q database.Querier, link ManyToMany) (map[int64][]int64, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY 1, 2", link.OwnerColumn, link.TargetColumn, link.Table)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to dump %s: %w", link.Table, err)
	}
	defer rows.Close()

	targets := make(map[int64][]int64)
	for rows.Next() {
		var owner, target int64
		if err := rows.Scan(&owner, &target); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", link.Table, err)
		}
		targets[owner] = append(targets[owner], target)
	}
	return targets, rows.Err()
}

// Load upserts every object by primary key in one transaction and replaces
// the many-to-many links of each loaded object. Sequences are advanced past
// the highest loaded id.
func (s *Store) Load(ctx context.Context, objs []Object) (*LoadResult, error) {
	return s.load(ctx, objs, false)
}

// Sync loads objects like Load and then deletes, for every model present in
// the fixture, the rows whose ids the fixture does not contain.
func (s *Store) Sync(ctx context.Context, objs []Object) (*LoadResult, error) {
	return s.load(ctx, objs, true)
}

func (s *Store) load(ctx context.Context, objs []Object, sync bool) (*LoadResult, error) {
	grouped, order, err := s.groupByModel(objs)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{}
	err = s.db.InTx(ctx, func(ctx context.Context) error {
		q, ok := database.GetScope(ctx)
		if !ok {
			return fmt.Errorf("no database scope in context")
		}

		if _, err := q.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
			return fmt.Errorf("failed to defer constraints: %w", err)
		}

		if sync {
			for _, m := range order {
				deleted, err := deleteMissing(ctx, q, m, grouped[m])
				if err != nil {
					return err
				}
				result.Deleted += deleted
			}
		}

		for _, m := range order {
			for _, obj := range grouped[m] {
				if err := upsertObject(ctx, q, m, obj); err != nil {
					return err
				}
				result.Objects++
			}
		}

		for _, m := range order {
			if err := resetSequence(ctx, q, m); err != nil {
				return err
			}
			result.Models = append(result.Models, m.Label())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Loaded fixture objects",
		zap.Int("objects", result.Objects),
		zap.Int64("deleted", result.Deleted),
		zap.Strings("models", result.Models),
		zap.Bool("sync", sync))
	return result, nil
}

// groupByModel resolves each object's model, preserving first-seen model order.
func (s *Store) groupByModel(objs []Object) (map[*Model][]Object, []*Model, error) {
	grouped := make(map[*Model][]Object)
	var order []*Model
	for _, obj := range objs {
		m, ok := s.registry.Lookup(obj.Model)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown model %q", apperrors.ErrInvalidFixture, obj.Model)
		}
		if _, seen := grouped[m]; !seen {
			order = append(order, m)
		}
		grouped[m] = append(grouped[m], obj)
	}
	return grouped, order, nil
}

// buildUpsert renders the INSERT ... ON CONFLICT statement for one object.
// Only fields present in the object are written, so omitted columns keep
// their defaults on insert and their current values on update.
func buildUpsert(m *Model, obj Object) (string, []any, map[*ManyToMany][]int64, error) {
	cols := []string{"id"}
	args := []any{obj.PK}
	links := make(map[*ManyToMany][]int64)

	names := make([]string, 0, len(obj.Fields))
	for name := range obj.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := obj.Fields[name]
		if link, ok := m.m2m(name); ok {
			ids, err := decodeIDs(name, raw)
			if err != nil {
				return "", nil, nil, fmt.Errorf("%s pk %d: %w", m.Label(), obj.PK, err)
			}
			links[link] = ids
			continue
		}

		field, ok := m.field(name)
		if !ok {
			return "", nil, nil, fmt.Errorf("%w: %s has no field %q", apperrors.ErrInvalidFixture, m.Label(), name)
		}
		v, err := decodeValue(field, raw)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%s pk %d: %w", m.Label(), obj.PK, err)
		}
		cols = append(cols, field.Column)
		args = append(args, v)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	conflict := "DO NOTHING"
	if len(cols) > 1 {
		sets := make([]string, 0, len(cols)-1)
		for _, c := range cols[1:] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) %s",
		m.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), conflict)
	return query, args, links, nil
}

func upsertObject(ctx context.Context, q database.Querier, m *Model, obj Object) error {
	query, args, links, err := buildUpsert(m, obj)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to load %s pk %d: %w", m.Label(), obj.PK, err)
	}

	for link, ids := range links {
		del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", link.Table, link.OwnerColumn)
		if _, err := q.Exec(ctx, del, obj.PK); err != nil {
			return fmt.Errorf("failed to clear %s for pk %d: %w", link.Table, obj.PK, err)
		}
		if len(ids) == 0 {
			continue
		}
		ins := fmt.Sprintf("INSERT INTO %s (%s, %s) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING",
			link.Table, link.OwnerColumn, link.TargetColumn)
		if _, err := q.Exec(ctx, ins, obj.PK, ids); err != nil {
			return fmt.Errorf("failed to link %s for pk %d: %w", link.Table, obj.PK, err)
		}
	}
	return nil
}

func deleteMissing(ctx context.Context, q database.Querier, m *Model, objs []Object) (int64, error) {
	keep := make([]int64, 0, len(objs))
	for _, obj := range objs {
		keep = append(keep, obj.PK)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE NOT (id = ANY($1))", m.Table)
	result, err := q.Exec(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s: %w", m.Label(), err)
	}
	return result.RowsAffected(), nil
}

func resetSequence(ctx context.Context, q database.Querier, m *Model) error {
	query := fmt.Sprintf(`
		SELECT setval(pg_get_serial_sequence('%[1]s', 'id'),
		              COALESCE((SELECT MAX(id) FROM %[1]s), 1),
		              (SELECT MAX(id) FROM %[1]s) IS NOT NULL)`, m.Table)
	if _, err := q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to reset %s sequence: %w", m.Table, err)
	}
	return nil
}
