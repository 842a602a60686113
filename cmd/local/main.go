package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/coordinator/service"
	"github.com/nemanja-m/shardmr/internal/coordinator/storage"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/worker"
	"github.com/nemanja-m/shardmr/pkg/datastore"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/output"

	_ "github.com/nemanja-m/shardmr/examples/entitycount"
	_ "github.com/nemanja-m/shardmr/examples/entitycreate"
	"github.com/nemanja-m/shardmr/examples/grep"
	_ "github.com/nemanja-m/shardmr/examples/wordcount"
)

const pollInterval = 100 * time.Millisecond

func main() {
	var (
		jobName     = flag.String("job", "", "job to run (e.g., wordcount, grep, entitycreate, entitycount)")
		inputGlob   = flag.String("input", "", "input files glob pattern, comma separated (overrides default)")
		outputPath  = flag.String("output", "", "output directory (overrides default)")
		mapShards   = flag.Int("shards", 0, "number of input shards (overrides default)")
		reducers    = flag.Int("reducers", 0, "number of output shards (overrides default)")
		parallelism = flag.Int("parallelism", 4, "shards processed concurrently")
		stepRecords = flag.Int("step-records", 1000, "records per shard step, 0 for unbounded")
		dataPath    = flag.String("datastore", "shardmr-data.db", "entity datastore file")
		pattern     = flag.String("pattern", grep.Pattern, "substring matched by the grep job")
		logLevel    = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, "text")
	if err != nil {
		logging.NewSlogLogger(slog.LevelInfo).Fatal("Invalid log level", "error", err)
	}

	tmpl, err := jobs.Get(*jobName)
	if err != nil {
		logger.Fatal("Unknown job", "job", *jobName, "available", jobs.List())
	}

	if *inputGlob != "" {
		tmpl.Input.Paths = strings.Split(*inputGlob, ",")
	}
	if *outputPath != "" {
		tmpl.Output = output.Config{Type: output.TypeFile, Path: *outputPath, Shards: tmpl.Output.Shards}
	}
	if *mapShards > 0 {
		tmpl.Input.Shards = *mapShards
	}
	if *reducers > 0 {
		tmpl.Output.Shards = *reducers
	}
	grep.Pattern = *pattern

	spec, err := jobs.FromJob(*jobName, tmpl)
	if err != nil {
		logger.Fatal("Invalid job", "error", err)
	}

	store, err := datastore.NewBoltStore(*dataPath)
	if err != nil {
		logger.Fatal("Failed to open datastore", "path", *dataPath, "error", err)
	}
	defer store.Close()

	manager := service.NewJobManager(
		storage.NewInMemoryJobStore(),
		store,
		service.NewDriver(worker.NewRunner(logger), logger),
		logger,
	)

	settings := core.DefaultSettings()
	settings.Parallelism = *parallelism
	settings.StepRecords = *stepRecords

	id, err := manager.StartJob(spec, settings)
	if err != nil {
		logger.Fatal("Failed to start job", "error", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		_ = manager.CancelJob(id)
	}()

	fmt.Printf("Starting job %s (%s)\n", *jobName, id)
	job := watch(manager, id)

	printSummary(job)
	if job.Phase != core.JobPhaseDone {
		os.Exit(1)
	}
}

// watch renders shard progress until the job finishes.
func watch(manager *service.JobManager, id uuid.UUID) *core.Job {
	var (
		bar   *progressbar.ProgressBar
		phase core.JobPhase
	)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		job, err := manager.GetStatus(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get status: %v\n", err)
			continue
		}

		progress := job.Progress.Map
		if job.Phase == core.JobPhaseReducing {
			progress = job.Progress.Reduce
		}
		if job.Phase != phase && progress.Total > 0 && !job.Phase.Finished() {
			if bar != nil {
				_ = bar.Finish()
			}
			phase = job.Phase
			bar = progressbar.NewOptions(progress.Total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription(strings.ToLower(string(phase))),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(false),
			)
		}
		if bar != nil && job.Phase == phase {
			_ = bar.Set(progress.Done)
		}

		if job.Phase.Finished() {
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			manager.Wait()
			return job
		}
	}
	return nil
}

func printSummary(job *core.Job) {
	fmt.Printf("\nJob %s finished: %s in %s\n", job.Spec.Name, job.Phase, job.Duration().Round(time.Millisecond))
	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}
	for _, f := range job.Failures {
		fmt.Printf("  %s shard %d failed after %d attempts: %s\n", f.Type, f.Shard, f.Attempts, f.Error)
	}

	fmt.Printf("\nCounters:\n")
	for _, name := range job.Counters.Names() {
		fmt.Printf("  %-28s %s\n", name, humanize.Comma(job.Counters.Get(name)))
	}
	fmt.Printf("  %-28s %s map, %s reduce\n", "records",
		humanize.Comma(job.Progress.Map.Records),
		humanize.Comma(job.Progress.Reduce.Records))

	if job.Output == nil {
		return
	}
	fmt.Printf("\nOutput (%s):\n", job.Output.Type)
	if job.Output.Location != "" {
		fmt.Printf("  Location: %s\n", job.Output.Location)
	}
	for i, values := range job.Output.Values {
		fmt.Printf("  shard %d: %s records\n", i, humanize.Comma(int64(len(values))))
		for _, v := range values {
			fmt.Printf("    %v\n", v)
		}
	}
	if job.Output.Values == nil {
		for _, h := range job.Output.Handles {
			fmt.Printf("  %s\n", h)
		}
	}
}
