// Package tasks implements the msgvis admin and deployment task runner.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/apperrors"
	"github.com/msgvis/msgvis/pkg/config"
	"github.com/msgvis/msgvis/pkg/fixtures"
	"github.com/msgvis/msgvis/pkg/logging"
	"github.com/msgvis/msgvis/pkg/metrics"
	"github.com/msgvis/msgvis/pkg/shell"
)

// Task is one named admin operation.
type Task struct {
	Name        string
	Description string
	Params      []Param
	Run         func(ctx context.Context, r *Runner, args Args) error
}

// Usage renders the task with its parameters, e.g. "docs[:easy]".
func (t *Task) Usage() string {
	if len(t.Params) == 0 {
		return t.Name
	}
	params := make([]string, len(t.Params))
	for i, p := range t.Params {
		params[i] = p.String()
	}
	return t.Name + "[:" + strings.Join(params, ",") + "]"
}

func (t *Task) hasParam(name string) bool {
	for _, p := range t.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Registry holds the known tasks.
type Registry struct {
	tasks map[string]*Task
}

// NewRegistry creates a registry holding tasks.
func NewRegistry(tasks ...*Task) *Registry {
	r := &Registry{tasks: make(map[string]*Task, len(tasks))}
	for _, t := range tasks {
		r.tasks[t.Name] = t
	}
	return r
}

// Lookup finds a task by name.
func (r *Registry) Lookup(name string) (*Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// List returns every task sorted by name.
func (r *Registry) List() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Env carries what tasks need from the outside world.
type Env struct {
	Config   *config.Config
	Out      *Printer
	Shell    shell.Runner
	Backend  Backend
	Dial     Dialer
	Registry *fixtures.Registry
	Logger   *zap.Logger
}

// Runner executes task invocations in order.
type Runner struct {
	Env
	tasks *Registry
}

// NewRunner creates a runner over the given tasks.
func NewRunner(env Env, tasks *Registry) *Runner {
	env.Logger = env.Logger.Named("tasks")
	return &Runner{Env: env, tasks: tasks}
}

// reportedError marks a failure whose message the task already printed.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	return reportedError{err: err}
}

// Run parses argv and runs each invocation in order. Every invocation is
// validated before the first one runs. The first failure stops the chain.
func (r *Runner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		argv = []string{"list"}
	}

	type step struct {
		task *Task
		args Args
	}
	steps := make([]step, 0, len(argv))
	for _, a := range argv {
		inv, err := ParseInvocation(a)
		if err != nil {
			r.Out.Error("%s", err)
			return err
		}
		task, ok := r.tasks.Lookup(inv.Name)
		if !ok {
			r.Out.Error("Unknown task: %s", inv.Name)
			r.PrintTasks()
			return fmt.Errorf("%w: %s", apperrors.ErrUnknownTask, inv.Name)
		}
		args, err := bind(task, inv)
		if err != nil {
			r.Out.Error("%s", err)
			return err
		}
		steps = append(steps, step{task: task, args: args})
	}

	for _, s := range steps {
		if err := r.invoke(ctx, s.task, s.args); err != nil {
			var rep reportedError
			if !errors.As(err, &rep) {
				r.Out.Error("Task %s failed: %s", s.task.Name, logging.SanitizeError(err))
			}
			return err
		}
	}
	return nil
}

// Invoke runs another task by name with positional arguments.
func (r *Runner) Invoke(ctx context.Context, name string, positional ...string) error {
	task, ok := r.tasks.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownTask, name)
	}
	args, err := bind(task, Invocation{Name: name, Positional: positional})
	if err != nil {
		return err
	}
	return r.invoke(ctx, task, args)
}

func (r *Runner) invoke(ctx context.Context, task *Task, args Args) error {
	start := time.Now()
	r.Logger.Debug("Running task", zap.String("task", task.Name))

	err := task.Run(ctx, r, args)
	metrics.ObserveTask(task.Name, start, err)

	if err != nil {
		r.Logger.Debug("Task failed",
			zap.String("task", task.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return err
	}
	r.Logger.Debug("Task finished", zap.String("task", task.Name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// PrintTasks lists every task with its description.
func (r *Runner) PrintTasks() {
	r.Out.Info("Available tasks:")
	list := r.tasks.List()
	width := 0
	for _, t := range list {
		width = max(width, len(t.Usage()))
	}
	for _, t := range list {
		r.Out.Info("  %-*s  %s", width, t.Usage(), t.Description)
	}
}

// path resolves a project-relative path.
func (r *Runner) path(elem ...string) string {
	return r.Config.Path(elem...)
}
