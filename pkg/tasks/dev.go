package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/shell"
)

const (
	supervisorConfig = "setup/supervisord.conf"
	coverageProfile  = "coverage.out"
)

// Environments accepted by the dependencies task.
var dependencyEnvironments = map[string]bool{"dev": true, "test": true, "prod": true}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func (r *Runner) sh(ctx context.Context, name string, args ...string) error {
	return r.Shell.Run(ctx, shell.Command{Name: name, Args: args, Dir: r.Config.ProjectRoot})
}

// installFrontend runs "<tool> install" when the project has the tool's manifest.
func (r *Runner) installFrontend(ctx context.Context, tool, manifest string) error {
	if !exists(r.path(manifest)) {
		return nil
	}
	if !r.Shell.LookPath(tool) {
		return fmt.Errorf("%s found but %s is not installed", manifest, tool)
	}
	return r.sh(ctx, tool, "install")
}

func dependenciesTask() *Task {
	return &Task{
		Name:        "dependencies",
		Description: "Installs Go, NPM, and Bower packages",
		Params:      []Param{{Name: "environment", Default: "dev"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			environment := args.Get("environment")
			if !dependencyEnvironments[environment] {
				return fmt.Errorf("%w: unknown environment %q (want dev, test or prod)", apperrors.ErrInvalidArgs, environment)
			}

			r.Out.Success("Updating %s dependencies...", environment)

			if err := r.sh(ctx, "go", "mod", "download"); err != nil {
				return err
			}
			if err := r.installFrontend(ctx, "npm", "package.json"); err != nil {
				return err
			}
			if err := r.installFrontend(ctx, "bower", "bower.json"); err != nil {
				return err
			}
			if environment == "prod" {
				// Static binary, so deploy hosts need no C toolchain.
				err := r.Shell.Run(ctx, shell.Command{
					Name: "go",
					Args: []string{"build", "-o", "bin/msgvis", "."},
					Dir:  r.Config.ProjectRoot,
					Env:  []string{"CGO_ENABLED=0"},
				})
				if err != nil {
					return err
				}
			}

			r.Out.Info("Dependency update successful.")
			return nil
		},
	}
}

func docsTask() *Task {
	return &Task{
		Name:        "docs",
		Description: "Build the documentation",
		Params:      []Param{{Name: "easy"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			r.Out.Success("Rebuilding the documentation...")

			makeArgs := []string{"clean", "html"}
			if !args.Has("easy") {
				makeArgs = append(makeArgs, `SPHINXOPTS=-n -W -T`)
			}
			return r.Shell.Run(ctx, shell.Command{Name: "make", Args: makeArgs, Dir: r.path("docs")})
		},
	}
}

func testTask() *Task {
	return &Task{
		Name:        "test",
		Description: "Run tests",
		Params:      []Param{{Name: "pattern", Default: "./..."}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			r.Out.Success("Running tests...")
			return r.sh(ctx, "go", "test", args.Get("pattern"))
		},
	}
}

func testCoverageTask() *Task {
	return &Task{
		Name:        "test_coverage",
		Description: "Run tests with coverage",
		Params:      []Param{{Name: "pattern", Default: "./..."}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			r.Out.Success("Running tests with coverage...")
			if err := r.sh(ctx, "go", "test", "-coverprofile="+coverageProfile, args.Get("pattern")); err != nil {
				return err
			}
			return r.sh(ctx, "go", "tool", "cover", "-func="+coverageProfile)
		},
	}
}

func pullTask() *Task {
	return &Task{
		Name:        "pull",
		Description: "Just runs git pull",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			r.Out.Success("Pulling latest code...")
			if err := r.sh(ctx, "git", "pull"); err != nil {
				return err
			}
			r.Out.Info("Git pull successful.")
			return nil
		},
	}
}

func restartWebserverTask() *Task {
	return &Task{
		Name:        "restart_webserver",
		Description: "Restart the supervised webserver process",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			r.Out.Success("Restarting webserver...")
			return r.sh(ctx, "supervisorctl", "-c", r.path(supervisorConfig), "restart", "webserver")
		},
	}
}

func supervisorTask() *Task {
	return &Task{
		Name:        "supervisor",
		Description: "Starts the supervisor process",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			r.Out.Success("Supervisor launching...")
			return r.sh(ctx, "supervisord", "-n", "-c", r.path(supervisorConfig))
		},
	}
}
