package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/nemanja-m/shardmr/internal/coordinator/api/grpc"
	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/config"
)

const usage = `Usage: mrctl [-config path] [-addr host:port] <command> [args]

Commands:
  submit <template> [name]  start a registered job
  status <job-id>           show job progress and counters
  list [status]             list jobs, optionally only those in a phase
  cancel <job-id>           stop a running job
`

func main() {
	configPath := flag.String("config", "", "path to client config file")
	addr := flag.String("addr", "", "coordinator gRPC address (overrides config)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fatal(err)
	}
	if *addr != "" {
		cfg.Coordinator.Addr = *addr
	}

	client, err := grpc.NewClient(cfg.Coordinator)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.Timeout)
	defer cancel()

	switch cmd := args[0]; cmd {
	case "submit":
		requireArgs(args, 2)
		name := ""
		if len(args) > 2 {
			name = args[2]
		}
		id, err := client.SubmitJob(ctx, args[1], name)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Job submitted successfully!\n")
		fmt.Printf("  Job ID: %s\n", id)
		fmt.Printf("\nCheck status with: mrctl status %s\n", id)
	case "status":
		requireArgs(args, 2)
		job, err := client.GetJobStatus(ctx, parseID(args[1]))
		if err != nil {
			fatal(err)
		}
		printJob(job)
	case "list":
		var filter core.JobFilter
		if len(args) > 1 {
			phase, err := core.ParseJobPhase(args[1])
			if err != nil {
				fatal(err)
			}
			filter.Phase = &phase
		}
		list, total, err := client.ListJobs(ctx, filter)
		if err != nil {
			fatal(err)
		}
		printList(list, total)
	case "cancel":
		requireArgs(args, 2)
		id := parseID(args[1])
		if err := client.CancelJob(ctx, id); err != nil {
			if errors.Is(err, core.ErrJobFinished) {
				fmt.Printf("Job %s already finished\n", id)
				return
			}
			if errors.Is(err, core.ErrJobNotRunning) {
				fmt.Printf("Job %s is not running on the coordinator\n", id)
				return
			}
			fatal(err)
		}
		fmt.Printf("Cancellation requested for job %s\n", id)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func printJob(job *core.Job) {
	fmt.Printf("Job Details:\n")
	fmt.Printf("  ID:          %s\n", job.ID)
	fmt.Printf("  Name:        %s\n", job.Spec.Name)
	fmt.Printf("  Status:      %s\n", job.Phase)
	fmt.Printf("  Mapper:      %s\n", job.Spec.Mapper)
	fmt.Printf("  Reducer:     %s\n", job.Spec.Reducer)
	fmt.Printf("  Submitted:   %s (%s)\n", job.SubmittedAt.Format(time.DateTime), humanize.Time(job.SubmittedAt))
	if job.StartedAt != nil {
		fmt.Printf("  Started:     %s\n", job.StartedAt.Format(time.DateTime))
	}
	if job.CompletedAt != nil {
		fmt.Printf("  Completed:   %s\n", job.CompletedAt.Format(time.DateTime))
	}
	if job.StartedAt != nil {
		fmt.Printf("  Duration:    %s\n", job.Duration().Round(time.Millisecond))
	}
	if job.Error != "" {
		fmt.Printf("  Error:       %s\n", job.Error)
	}

	fmt.Printf("\nProgress:\n")
	printPhase("Map", job.Progress.Map)
	if !job.Spec.MapOnly() {
		printPhase("Reduce", job.Progress.Reduce)
	}

	if len(job.Failures) > 0 {
		fmt.Printf("\nFailed shards:\n")
		for _, f := range job.Failures {
			fmt.Printf("  %s %d (%d attempts): %s\n", f.Type, f.Shard, f.Attempts, f.Error)
		}
	}

	if names := job.Counters.Names(); len(names) > 0 {
		fmt.Printf("\nCounters:\n")
		for _, name := range names {
			fmt.Printf("  %-28s %s\n", name, humanize.Comma(job.Counters.Get(name)))
		}
	}

	if job.Output != nil {
		fmt.Printf("\nOutput (%s):\n", job.Output.Type)
		for _, h := range job.Output.Handles {
			fmt.Printf("  %s\n", h)
		}
	}
}

func printPhase(name string, p core.PhaseProgress) {
	fmt.Printf("  %-7s %d/%d shards done, %d active, %s records\n",
		name+":", p.Done, p.Total, p.Active, humanize.Comma(p.Records))
}

func printList(list []*core.Job, total int) {
	if len(list) == 0 {
		fmt.Println("No jobs found")
		return
	}

	fmt.Printf("%-36s %-12s %-20s %s\n", "JOB ID", "STATUS", "NAME", "SUBMITTED")
	for _, job := range list {
		fmt.Printf("%-36s %-12s %-20s %s\n",
			job.ID,
			job.Phase,
			job.Spec.Name,
			humanize.Time(job.SubmittedAt))
	}
	if total > len(list) {
		fmt.Printf("\n%d of %d jobs shown\n", len(list), total)
	}
}

func requireArgs(args []string, n int) {
	if len(args) < n {
		flag.Usage()
		os.Exit(2)
	}
}

func parseID(raw string) uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		fatal(fmt.Errorf("invalid job ID %q: %w", raw, err))
	}
	return id
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "mrctl: %v\n", err)
	os.Exit(1)
}
