package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/hibiken/asynq"

	"task-scheduler-service/internal/api"
	"task-scheduler-service/internal/config"
	"task-scheduler-service/internal/events"
	"task-scheduler-service/internal/plugin"
	"task-scheduler-service/internal/plugin/builtin"
	"task-scheduler-service/internal/queue"
	"task-scheduler-service/internal/rundb"
	"task-scheduler-service/internal/scheduler"
	"task-scheduler-service/internal/task"
)

func main() {
	stdlog.Println("Task Scheduler Service starting...")

	cfg := config.FromEnv()

	store, err := rundb.Open(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to open run DB: %v", err)
	}
	stdlog.Printf("Run DB initialized (backend: %s).", cfg.RunDBBackend)

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

	harness := task.NewHarness(registry, func() (rundb.Store, error) {
		return rundb.Open(cfg)
	}, publisher)

	q := queue.NewAsynqQueue(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.QueueNames)
	if err := q.StartScheduler(); err != nil {
		stdlog.Fatalf("Failed to start the cron scheduler: %v", err)
	}

	dispatcher := scheduler.New(q, harness, cfg.QueueNames)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := dispatcher.AddTaskIfUnscheduled(seedCtx, manifest.SeedTasks(), scheduler.ManagerQueue); err != nil {
		stdlog.Fatalf("Failed to seed recurring tasks: %v", err)
	}
	seedCancel()

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	h := server.Default(server.WithHostPorts(cfg.ServerAddr), server.WithExitWaitTime(5*time.Second))

	runHandler := api.NewRunHandler(store)
	scheduleHandler := api.NewScheduleHandler(dispatcher, manifest, cfg.QueueNames)

	runGroup := h.Group("/runs")
	{
		runGroup.GET("", runHandler.GetRuns)
		runGroup.GET("/latest", runHandler.GetLatestRun)
		runGroup.GET("/:id", runHandler.GetRunByID)
		runGroup.DELETE("/:id", runHandler.DeleteRun)
	}
	jobGroup := h.Group("/jobs")
	{
		jobGroup.POST("", scheduleHandler.SubmitTask)
		jobGroup.POST("/launch", scheduleHandler.LaunchNow)
		jobGroup.GET("/scheduled", scheduleHandler.GetScheduledJobs)
		jobGroup.GET("/queued", scheduleHandler.GetQueuedJobs)
		jobGroup.GET("/failed", scheduleHandler.GetFailedJobs)
		jobGroup.POST("/:id/launch", scheduleHandler.LaunchJob)
		jobGroup.POST("/:id/requeue", scheduleHandler.RequeueJob)
		jobGroup.POST("/:id/cleanup", scheduleHandler.CleanupJob)
		jobGroup.DELETE("/:id", scheduleHandler.CancelJob)
	}
	h.GET("/components", scheduleHandler.GetComponents)

	h.GET("/ping", func(c context.Context, ctxReq *app.RequestContext) {
		ctxReq.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		hlog.Infof("Received signal: %s. Initiating graceful shutdown...", sig)

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			hlog.Errorf("Hertz server shutdown error: %v", err)
		} else {
			hlog.Info("Hertz server gracefully stopped.")
		}

		if err := q.Close(); err != nil {
			hlog.Errorf("Queue close error: %v", err)
		}
		if err := publisher.Close(); err != nil {
			hlog.Errorf("Event publisher close error: %v", err)
		}
		if err := store.Close(); err != nil {
			hlog.Errorf("Run DB close error: %v", err)
		}
		hlog.Info("Task Scheduler gracefully shut down.")
	}()

	hlog.Infof("Task Scheduler Service fully initialized and starting Hertz server on %s...", cfg.ServerAddr)
	h.Spin()

	stdlog.Println("Task Scheduler Service has been shut down.")
}
