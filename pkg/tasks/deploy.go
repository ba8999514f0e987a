package tasks

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/dotenv"
	"github.com/msgvis/msgvis/pkg/remote"
)

// installCommand installs the runner on a host that lacks it.
const installCommand = "go install github.com/msgvis/msgvis@latest"

// deployCommands run in order on the deployment host.
var deployCommands = []string{
	"msgvis pull",
	"msgvis dependencies:prod",
	"msgvis print_env check_database migrate",
	"msgvis build_static restart_webserver",
}

func deployTask() *Task {
	return &Task{
		Name:        "deploy",
		Description: "SSH into the deployment host, update it and restart the server",
		Run: func(ctx context.Context, r *Runner, _ Args) error {
			denv, err := dotenv.Read(r.dotEnvPath())
			if err != nil {
				return err
			}

			host := denv["DEPLOY_HOST"]
			if host == "" {
				r.Out.Error("No DEPLOY_HOST in .env file")
				return reported(fmt.Errorf("%w: DEPLOY_HOST", apperrors.ErrMissingEnv))
			}
			dir := denv["DEPLOY_VIRTUALENV"]
			if dir == "" {
				r.Out.Error("No DEPLOY_VIRTUALENV in .env file")
				return reported(fmt.Errorf("%w: DEPLOY_VIRTUALENV", apperrors.ErrMissingEnv))
			}

			session, err := r.Dial(ctx, remote.Config{
				Host:           host,
				User:           denv["DEPLOY_USER"],
				Dir:            dir,
				KeyFile:        denv["DEPLOY_KEY_FILE"],
				KnownHostsFile: denv["DEPLOY_KNOWN_HOSTS"],
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := session.Close(); err != nil {
					r.Logger.Warn("Failed to close SSH session", zap.Error(err))
				}
			}()

			if _, err := session.Output(ctx, "command -v msgvis"); err != nil {
				r.Out.Success("Installing msgvis...")
				if err := session.Run(ctx, installCommand); err != nil {
					return err
				}
			}

			for _, cmd := range deployCommands {
				if err := session.Run(ctx, cmd); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func manageTask() *Task {
	return &Task{
		Name:        "manage",
		Description: "Run another task by name (manage:migrate)",
		Params:      []Param{{Name: "command"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			fields := strings.Fields(args.Get("command"))
			if len(fields) == 0 {
				return fmt.Errorf("%w: manage needs a command", apperrors.ErrInvalidArgs)
			}
			return r.Invoke(ctx, fields[0], fields[1:]...)
		},
	}
}

func resetDevTask() *Task {
	return &Task{
		Name:        "reset_dev",
		Description: "Fully update the development environment (reset_db, [pull], dependencies, migrate, load_test_data, clear_cache)",
		Params:      []Param{{Name: "pull"}},
		Run: func(ctx context.Context, r *Runner, args Args) error {
			steps := []string{"reset_db"}
			if args.Has("pull") {
				steps = append(steps, "pull")
			}
			steps = append(steps, "dependencies", "migrate", "load_test_data", "clear_cache")

			for _, name := range steps {
				r.Out.Info("")
				if err := r.Invoke(ctx, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
