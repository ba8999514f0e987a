package tasks

import (
	"context"

	"github.com/msgvis/msgvis/pkg/dotenv"
)

const dotEnvTemplate = "setup/templates/dot_env"

func (r *Runner) dotEnvPath() string {
	return r.path(".env")
}

// outPath resolves the optional outpath argument, defaulting to the project .env.
func (r *Runner) outPath(args Args) string {
	if p := args.Get("outpath"); p != "" {
		return p
	}
	return r.dotEnvPath()
}

func makeTestEnvTask() *Task {
	return &Task{
		Name:        "make_test_env",
		Description: "Creates an empty .env file",
		Params:      []Param{{Name: "outpath"}},
		Run: func(_ context.Context, r *Runner, args Args) error {
			return dotenv.Touch(r.outPath(args))
		},
	}
}

func interpolateEnvTask() *Task {
	return &Task{
		Name:        "interpolate_env",
		Description: "Writes a .env file with variables interpolated from the current environment",
		Params:      []Param{{Name: "outpath"}},
		Run: func(_ context.Context, r *Runner, args Args) error {
			out := r.outPath(args)
			if err := dotenv.Render(r.path(dotEnvTemplate), out, dotenv.Environ()); err != nil {
				return err
			}
			r.Out.Success("Wrote %s", out)
			return nil
		},
	}
}

func printEnvTask() *Task {
	return &Task{
		Name:        "print_env",
		Description: "Print the local .env file contents",
		Run: func(_ context.Context, r *Runner, _ Args) error {
			env, err := dotenv.Read(r.dotEnvPath())
			if err != nil {
				return err
			}
			return dotenv.Print(r.Out.Writer(), env)
		},
	}
}
