package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/fixtures"
	"github.com/msgvis/msgvis/pkg/logging"
	"github.com/msgvis/msgvis/pkg/metrics"
)

// flushExplorerCache drops cached distributions after a task changed corpus
// rows. A failed flush only warns: the data change itself went through.
func (r *Runner) flushExplorerCache(ctx context.Context) {
	if !r.Config.Redis.Enabled() {
		return
	}
	n, err := r.Backend.FlushCache(ctx)
	if err != nil {
		r.Out.Warn("Could not flush the explorer cache: %s", logging.SanitizeError(err))
		return
	}
	r.Logger.Debug("Flushed explorer cache", zap.Int64("keys", n))
}

func migrateTask() *Task {
	return &Task{
		Name:        "migrate",
		Description: "Runs migrations",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			r.Out.Success("Running migrations...")
			version, err := r.Backend.Migrate(ctx)
			if err != nil {
				return err
			}
			r.Out.Info("Migrations successful.")
			r.Logger.Info("Schema migrated", zap.Uint("version", version))
			return nil
		},
	}
}

func resetDBTask() *Task {
	return &Task{
		Name:        "reset_db",
		Description: "Removes all of the tables",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			r.Out.Success("Dropping all tables in %s...", r.Config.Database.Name())
			if err := r.Backend.ResetDB(ctx); err != nil {
				return err
			}
			r.flushExplorerCache(ctx)
			return nil
		},
	}
}

func checkDatabaseTask() *Task {
	return &Task{
		Name:        "check_database",
		Description: "Makes sure the database is accessible",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			if err := r.Backend.CheckDatabase(ctx); err != nil {
				r.Out.Error("Database is not available! (%s)", r.Config.Database.Name())
				return reported(err)
			}
			r.Out.Success("Database is available")
			return nil
		},
	}
}

func loadTestDataTask() *Task {
	return &Task{
		Name:        "load_test_data",
		Description: "Load test data from test_data.json",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			infile := r.path(r.Config.Fixtures.TestDataPath)
			if !exists(infile) {
				r.Out.Warn("No test data found")
				return nil
			}

			r.Out.Success("Loading test data from %s", infile)
			objs, err := fixtures.ReadFile(infile)
			if err != nil {
				return err
			}
			res, err := r.Backend.LoadFixtures(ctx, objs, false)
			if err != nil {
				return err
			}
			metrics.AddFixtureObjects("load", res.Objects)
			r.flushExplorerCache(ctx)

			r.Out.Info("Load test data successful.")
			return nil
		},
	}
}

func makeTestDataTask() *Task {
	return &Task{
		Name:        "make_test_data",
		Description: "Updates the test_data.json file based on what is in the database",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			apps := r.Config.Fixtures.TestDataApps
			outfile := r.path(r.Config.Fixtures.TestDataPath)
			r.Out.Success("Saving test data from %s to %s", strings.Join(apps, ", "), outfile)

			objs, err := r.Backend.DumpFixtures(ctx, r.Registry.ForApps(apps...))
			if err != nil {
				return err
			}
			if err := fixtures.WriteFile(outfile, objs); err != nil {
				return err
			}
			metrics.AddFixtureObjects("dump", len(objs))

			r.Out.Info("Make test data successful.")
			return nil
		},
	}
}

// manifestEntries loads the fixture manifest and applies the app_or_model filter.
func (r *Runner) manifestEntries(appOrModel string) ([]fixtures.Entry, error) {
	manifest, err := fixtures.LoadManifest(r.path(r.Config.Fixtures.ManifestPath))
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(r.Registry); err != nil {
		return nil, err
	}
	return manifest.Filter(appOrModel), nil
}

func generateFixturesTask() *Task {
	return &Task{
		Name:        "generate_fixtures",
		Description: "Regenerate configured fixtures from the database (app or app.Model filter)",
		Params:      []Param{{Name: "app_or_model"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			entries, err := r.manifestEntries(args.Get("app_or_model"))
			if err != nil {
				return err
			}

			var generated []string
			for _, e := range entries {
				model, _ := r.Registry.Lookup(e.Model)
				objs, err := r.Backend.DumpFixtures(ctx, []*fixtures.Model{model})
				if err != nil {
					return fmt.Errorf("failed to dump %s: %w", e.Model, err)
				}
				if err := fixtures.WriteFile(r.path(e.Path), objs); err != nil {
					return err
				}
				metrics.AddFixtureObjects("dump", len(objs))
				generated = append(generated, e.Path)
			}

			r.Out.Info("Generated %d fixtures:", len(generated))
			for _, p := range generated {
				r.Out.Info(" - %s", p)
			}
			return nil
		},
	}
}

func loadFixturesTask() *Task {
	return &Task{
		Name:        "load_fixtures",
		Description: "Replaces the database tables with the contents of fixtures (app or app.Model filter)",
		Params:      []Param{{Name: "app_or_model"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			entries, err := r.manifestEntries(args.Get("app_or_model"))
			if err != nil {
				return err
			}

			for _, e := range entries {
				path := r.path(e.Path)
				objs, err := fixtures.ReadFile(path)
				if err != nil {
					return err
				}
				res, err := r.Backend.LoadFixtures(ctx, objs, true)
				if err != nil {
					return fmt.Errorf("failed to sync %s: %w", e.Path, err)
				}
				metrics.AddFixtureObjects("sync", res.Objects)
				r.Out.Info("Synced %s: %d objects, %d deleted", e.Path, res.Objects, res.Deleted)
			}
			if len(entries) > 0 {
				r.flushExplorerCache(ctx)
			}
			return nil
		},
	}
}

func importTask() *Task {
	return &Task{
		Name:        "import",
		Description: "Import a JSON-lines message export into a new dataset",
		Params:      []Param{{Name: "name"}, {Name: "path"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			name, path := args.Get("name"), args.Get("path")
			if name == "" || path == "" {
				return fmt.Errorf("%w: import needs a dataset name and a file path", apperrors.ErrInvalidArgs)
			}

			r.Out.Success("Importing %s into dataset %q...", path, name)
			run, err := r.Backend.Import(ctx, name, path)
			if run != nil {
				r.Out.Info("Dataset %d: %d lines read, %d imported, %d duplicates, %d skipped, %d failed (%s)",
					run.DatasetID, run.Read, run.Imported, run.Duplicates, run.Skipped, run.Failed, run.Duration.Round(time.Millisecond))
				r.flushExplorerCache(ctx)
			}
			return err
		},
	}
}

func recomputeFlagsTask() *Task {
	return &Task{
		Name:        "recompute_flags",
		Description: "Recompute the contains_* message flags of a dataset",
		Params:      []Param{{Name: "dataset"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			id, err := strconv.ParseInt(args.Get("dataset"), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("%w: recompute_flags needs a dataset id", apperrors.ErrInvalidArgs)
			}

			updated, err := r.Backend.RecomputeFlags(ctx, id)
			if err != nil {
				return err
			}
			r.Out.Info("Updated flags on %d messages.", updated)
			return nil
		},
	}
}
