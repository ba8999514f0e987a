package tasks

import (
	"context"
	"errors"

	"github.com/msgvis/msgvis/pkg/dotenv"
	"github.com/msgvis/msgvis/pkg/static"
)

func buildStaticTask() *Task {
	return &Task{
		Name:        "build_static",
		Description: "Builds static files for production",
		Run: func(_ context.Context, r *Runner, _ Args) error {
			r.Out.Success("Gathering and preprocessing static files...")

			cfg := r.Config.Static
			sources := make([]string, len(cfg.SourceDirs))
			for i, dir := range cfg.SourceDirs {
				sources[i] = r.path(dir)
			}
			cacheDir := ""
			if cfg.CompressionEnabled() {
				cacheDir = r.path(cfg.CacheDir())
			}

			collector := static.NewCollector(sources, r.path(cfg.Root), cacheDir, r.Logger)
			collected, err := collector.Collect()
			if err != nil {
				return err
			}
			compressed, err := collector.Compress()
			if err != nil {
				return err
			}

			r.Out.Info("Collected %d files, compressed %d.", collected, compressed)
			return nil
		},
	}
}

func clearCacheTask() *Task {
	return &Task{
		Name:        "clear_cache",
		Description: "Deletes the compressed static files and the explorer cache",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			cfg := r.Config.Static
			if cfg.CompressionEnabled() {
				cacheDir := r.path(cfg.CacheDir())
				removed, err := static.ClearCache(cacheDir)
				switch {
				case errors.Is(err, static.ErrUnsafeCacheDir):
					r.Out.Warn("Not removing %s: not a %s directory", cacheDir, static.CacheDirSuffix)
				case err != nil:
					return err
				case removed:
					r.Out.Success("Removed %s", cacheDir)
					r.Out.Info("Clear cache successful.")
				}
			} else {
				r.Out.Warn("Static file compression is not configured")
			}

			if r.Config.Redis.Enabled() {
				flushed, err := r.Backend.FlushCache(ctx)
				if err != nil {
					return err
				}
				r.Out.Info("Flushed %d explorer cache entries.", flushed)
			}
			return nil
		},
	}
}

func runserverTask() *Task {
	return &Task{
		Name:        "runserver",
		Description: "Runs the explorer API server",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			r.Out.Success("Running the development webserver...")

			denv, err := dotenv.Read(r.dotEnvPath())
			if err != nil {
				return err
			}
			listen := *r.Config
			listen.BindAddr = envOr(denv, "SERVER_HOST", r.Config.BindAddr)
			listen.Port = envOr(denv, "PORT", r.Config.Port)

			return r.Backend.Serve(ctx, listen.ListenAddr())
		},
	}
}

func envOr(env map[string]string, key, def string) string {
	if v, ok := env[key]; ok && v != "" {
		return v
	}
	return def
}
