package tasks

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/config"
	"github.com/msgvis/msgvis/pkg/fixtures"
	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/remote"
	"github.com/msgvis/msgvis/pkg/shell"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	checkErr   error
	migrateErr error

	dumped     [][]string
	loaded     [][]fixtures.Object
	loadSync   []bool
	servedAddr string
	importRun  *models.ImportRun
	flushed    int64
	flushErr   error
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) Migrate(context.Context) (uint, error) {
	b.record("migrate")
	if b.migrateErr != nil {
		return 0, b.migrateErr
	}
	return 1, nil
}

func (b *fakeBackend) ResetDB(context.Context) error {
	b.record("reset_db")
	return nil
}

func (b *fakeBackend) CheckDatabase(context.Context) error {
	b.record("check_database")
	return b.checkErr
}

func (b *fakeBackend) DumpFixtures(_ context.Context, selected []*fixtures.Model) ([]fixtures.Object, error) {
	b.record("dump")
	labels := fixtures.Labels(selected)
	b.dumped = append(b.dumped, labels)

	var objs []fixtures.Object
	for i, label := range labels {
		objs = append(objs, fixtures.Object{Model: label, PK: int64(i + 1)})
	}
	return objs, nil
}

func (b *fakeBackend) LoadFixtures(_ context.Context, objs []fixtures.Object, sync bool) (*fixtures.LoadResult, error) {
	b.record("load")
	b.loaded = append(b.loaded, objs)
	b.loadSync = append(b.loadSync, sync)
	return &fixtures.LoadResult{Objects: len(objs)}, nil
}

func (b *fakeBackend) Import(_ context.Context, name, path string) (*models.ImportRun, error) {
	b.record("import " + name + " " + path)
	if b.importRun == nil {
		return nil, errors.New("no run")
	}
	return b.importRun, nil
}

func (b *fakeBackend) RecomputeFlags(_ context.Context, datasetID int64) (int64, error) {
	b.record("recompute_flags")
	return datasetID * 10, nil
}

func (b *fakeBackend) FlushCache(context.Context) (int64, error) {
	b.record("flush_cache")
	return b.flushed, b.flushErr
}

func (b *fakeBackend) Serve(_ context.Context, addr string) error {
	b.record("serve")
	b.servedAddr = addr
	return nil
}

func (b *fakeBackend) Close() {}

type fakeShell struct {
	commands []string
	dirs     []string
	envs     [][]string
	failOn   string
	missing  map[string]bool
}

func (s *fakeShell) Run(_ context.Context, cmd shell.Command) error {
	s.commands = append(s.commands, cmd.String())
	s.dirs = append(s.dirs, cmd.Dir)
	s.envs = append(s.envs, cmd.Env)
	if s.failOn != "" && cmd.String() == s.failOn {
		return errors.New("exit status 1")
	}
	return nil
}

func (s *fakeShell) LookPath(name string) bool { return !s.missing[name] }

type fakeSession struct {
	cfg       remote.Config
	commands  []string
	outputErr error
	closed    bool
}

func (s *fakeSession) Run(_ context.Context, cmd string) error {
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *fakeSession) Output(_ context.Context, cmd string) (string, error) {
	s.commands = append(s.commands, cmd)
	return "/usr/local/bin/msgvis\n", s.outputErr
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type harness struct {
	runner  *Runner
	out     *bytes.Buffer
	backend *fakeBackend
	shell   *fakeShell
	session *fakeSession
	dialed  bool
	root    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		BindAddr:    "0.0.0.0",
		Port:        "8000",
		ProjectRoot: root,
		Database:    config.DatabaseConfig{Database: "msgvis"},
		Static: config.StaticConfig{
			SourceDirs:        []string{"static"},
			Root:              "build/static",
			CompressOutputDir: "CACHE",
		},
		Fixtures: config.FixturesConfig{
			TestDataPath: "setup/fixtures/test_data.json",
			ManifestPath: "setup/fixtures/manifest.yaml",
			TestDataApps: []string{"corpus"},
		},
	}

	h := &harness{
		out:     &bytes.Buffer{},
		backend: &fakeBackend{},
		shell:   &fakeShell{},
		session: &fakeSession{},
		root:    root,
	}
	h.runner = NewRunner(Env{
		Config:  cfg,
		Out:     NewPrinter(h.out, true),
		Shell:   h.shell,
		Backend: h.backend,
		Dial: func(_ context.Context, rc remote.Config) (RemoteSession, error) {
			h.dialed = true
			h.session.cfg = rc
			return h.session, nil
		},
		Registry: fixtures.CorpusRegistry(),
		Logger:   zap.NewNop(),
	}, Builtin())
	return h
}

func (h *harness) run(args ...string) error {
	return h.runner.Run(context.Background(), args)
}
