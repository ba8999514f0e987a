package tasks

import "context"

// Builtin returns every msgvis task.
func Builtin() *Registry {
	return NewRegistry(
		listTask(),

		dependenciesTask(),
		docsTask(),
		testTask(),
		testCoverageTask(),
		pullTask(),
		restartWebserverTask(),
		supervisorTask(),

		migrateTask(),
		resetDBTask(),
		checkDatabaseTask(),
		loadTestDataTask(),
		makeTestDataTask(),
		generateFixturesTask(),
		loadFixturesTask(),
		importTask(),
		recomputeFlagsTask(),

		buildStaticTask(),
		clearCacheTask(),
		runserverTask(),

		makeTestEnvTask(),
		interpolateEnvTask(),
		printEnvTask(),

		manageTask(),
		resetDevTask(),
		deployTask(),
	)
}

func listTask() *Task {
	return &Task{
		Name:        "list",
		Description: "List available tasks",
		Run: func(_ context.Context, r *Runner, _ Args) error {
			r.PrintTasks()
			return nil
		},
	}
}
