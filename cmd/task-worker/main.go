package main

import (
	stdlog "log"

	"github.com/hibiken/asynq"

	"task-scheduler-service/internal/config"
	"task-scheduler-service/internal/events"
	"task-scheduler-service/internal/plugin"
	"task-scheduler-service/internal/plugin/builtin"
	"task-scheduler-service/internal/queue"
	"task-scheduler-service/internal/rundb"
	"task-scheduler-service/internal/task"
)

const workerConcurrency = 10

func main() {
	stdlog.Println("Task Worker Service starting...")

	cfg := config.FromEnv()

	manifest, err := plugin.NewManifest(
		builtin.Echo{},
		builtin.ShellCommand{},
	)
	if err != nil {
		stdlog.Fatalf("Failed to build component manifest: %v", err)
	}
	registry, err := manifest.BuildRegistry()
	if err != nil {
		stdlog.Fatalf("Failed to build runner registry: %v", err)
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.EventTopic)
	defer publisher.Close()

	harness := task.NewHarness(registry, func() (rundb.Store, error) {
		return rundb.Open(cfg)
	}, publisher)

	// Every configured queue is consumed at equal priority.
	queues := make(map[string]int, len(cfg.QueueNames))
	for _, name := range cfg.QueueNames {
		queues[name] = 1
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: workerConcurrency,
			Queues:      queues,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.MessageType, queue.Handler(harness))

	stdlog.Printf("Task Worker consuming queues %v from redis %s...", cfg.QueueNames, cfg.RedisAddr)
	if err := srv.Run(mux); err != nil {
		stdlog.Fatalf("Worker server stopped with error: %v", err)
	}
	stdlog.Println("Task Worker Service has been shut down.")
}
