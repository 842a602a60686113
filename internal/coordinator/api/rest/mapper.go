package rest

import (
	"cmp"
	"time"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/output"
)

// ToSpecification builds a validated specification. Fields left empty are
// taken from the named template when one is given.
func (req *SubmitJobRequest) ToSpecification() (jobs.Specification, error) {
	var tmpl jobs.Job
	if req.Template != "" {
		t, err := jobs.Get(req.Template)
		if err != nil {
			return jobs.Specification{}, err
		}
		tmpl = t
	}

	in := input.Config{
		Type:   req.Input.Type,
		Start:  req.Input.Start,
		End:    req.Input.End,
		Kind:   req.Input.Kind,
		Paths:  req.Input.Paths,
		Shards: req.Input.Shards,
	}
	if in.Type == "" {
		in = tmpl.Input
	}
	out := output.Config{
		Type:   req.Output.Type,
		Path:   req.Output.Path,
		Shards: req.Output.Shards,
	}
	if out.Type == "" {
		out = tmpl.Output
	}

	return jobs.NewSpecification(
		req.Name,
		in,
		cmp.Or(req.Mapper, tmpl.Mapper),
		cmp.Or(req.Reducer, tmpl.Reducer),
		cmp.Or(req.KeyMarshaller, tmpl.KeyMarshaller),
		cmp.Or(req.ValueMarshaller, tmpl.ValueMarshaller),
		out,
	)
}

// ToSettings overrides the given defaults with whatever the request sets.
func (req *SubmitJobRequest) ToSettings(defaults core.Settings) core.Settings {
	s := defaults
	if req.Settings == nil {
		return s
	}
	if req.Settings.Parallelism != nil {
		s.Parallelism = *req.Settings.Parallelism
	}
	if req.Settings.MaxAttempts != nil {
		s.MaxAttempts = *req.Settings.MaxAttempts
	}
	if req.Settings.StepRecords != nil {
		s.StepRecords = *req.Settings.StepRecords
	}
	if req.Settings.StepTimeoutSeconds != nil {
		s.StepTimeout = time.Duration(*req.Settings.StepTimeoutSeconds) * time.Second
	}
	return s
}

func ToGetJobResponse(job *core.Job) GetJobResponse {
	failures := make([]FailureInfo, 0, len(job.Failures))
	for _, f := range job.Failures {
		failures = append(failures, FailureInfo{
			Type:     string(f.Type),
			Shard:    f.Shard,
			Attempts: f.Attempts,
			Error:    f.Error,
		})
	}

	resp := GetJobResponse{
		JobID:   job.ID.String(),
		Name:    job.Spec.Name,
		Status:  string(job.Phase),
		Mapper:  job.Spec.Mapper,
		Reducer: job.Spec.Reducer,
		Progress: ProgressInfo{
			Map:    toShardProgress(job.Progress.Map),
			Reduce: toShardProgress(job.Progress.Reduce),
		},
		Counters: map[string]int64(job.Counters.Clone()),
		Timestamps: TimestampsInfo{
			Submitted: job.SubmittedAt,
			Started:   job.StartedAt,
			Completed: job.CompletedAt,
		},
		Error:    job.Error,
		Failures: failures,
	}
	if resp.Counters == nil {
		resp.Counters = map[string]int64{}
	}

	if job.Output != nil {
		handles := make([]string, len(job.Output.Handles))
		for i, h := range job.Output.Handles {
			handles[i] = string(h)
		}
		resp.Output = OutputInfo{
			Type:      job.Output.Type,
			Location:  job.Output.Location,
			Handles:   handles,
			Values:    job.Output.Values,
			Available: true,
		}
	}
	return resp
}

func toShardProgress(p core.PhaseProgress) ShardProgress {
	return ShardProgress{
		Total:   p.Total,
		Pending: p.Pending,
		Active:  p.Active,
		Done:    p.Done,
		Records: p.Records,
	}
}

func ToJobSummary(job *core.Job) JobSummary {
	return JobSummary{
		JobID:       job.ID.String(),
		Name:        job.Spec.Name,
		Status:      string(job.Phase),
		SubmittedAt: job.SubmittedAt,
		CompletedAt: job.CompletedAt,
	}
}
