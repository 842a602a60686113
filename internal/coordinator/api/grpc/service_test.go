package grpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/coordinator/service"
	"github.com/nemanja-m/shardmr/internal/coordinator/storage"
	"github.com/nemanja-m/shardmr/internal/shared/config"
	"github.com/nemanja-m/shardmr/internal/worker"
	mr "github.com/nemanja-m/shardmr/pkg/core"
	"github.com/nemanja-m/shardmr/pkg/counters"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/marshal"
	"github.com/nemanja-m/shardmr/pkg/output"
)

const (
	testTemplate = "grpc-test-parity"
	slowTemplate = "grpc-test-slow"
)

var release = make(chan struct{})

func init() {
	must(jobs.RegisterMapper("grpc-test-parity", func(_ *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		return []mr.KeyValue{{Key: r.Key.(int64) % 2, Value: int64(1)}}, nil
	}))
	must(jobs.RegisterMapper("grpc-test-slow", func(ctx *mr.Context, r mr.Record) ([]mr.KeyValue, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return nil, nil
		}
	}))
	must(jobs.RegisterReducer("grpc-test-count", func(_ *mr.Context, key any, values []any) ([]mr.KeyValue, error) {
		return []mr.KeyValue{{Key: key, Value: int64(len(values))}}, nil
	}))
	must(jobs.Register(testTemplate, jobs.Job{
		Mapper:          "grpc-test-parity",
		Reducer:         "grpc-test-count",
		KeyMarshaller:   marshal.Int64,
		ValueMarshaller: marshal.Int64,
		Input:           input.Config{Type: input.TypeRange, Start: 0, End: 20, Shards: 3},
		Output:          output.Config{Type: output.TypeMemory, Shards: 2},
	}))
	must(jobs.Register(slowTemplate, jobs.Job{
		Mapper:          "grpc-test-slow",
		Reducer:         jobs.NoopReducer,
		KeyMarshaller:   marshal.Int64,
		ValueMarshaller: marshal.Int64,
		Input:           input.Config{Type: input.TypeRange, Start: 0, End: 5, Shards: 1},
		Output:          output.Config{Type: output.TypeNone, Shards: 1},
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Fatal(msg string, args ...any) {}

func startServer(t *testing.T) (*service.JobManager, *bufconn.Listener) {
	t.Helper()
	logger := nopLogger{}
	manager := service.NewJobManager(
		storage.NewInMemoryJobStore(),
		nil,
		service.NewDriver(worker.NewRunner(logger), logger),
		logger,
	)
	t.Cleanup(manager.Shutdown)

	defaults := core.Settings{Parallelism: 2, MaxAttempts: 2, StepRecords: 3}
	srv := NewServer(config.GRPCConfig{Addr: "bufnet"}, manager, defaults, logger)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return manager, lis
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func newTestClient(t *testing.T, lis *bufconn.Listener) *Client {
	t.Helper()
	client, err := NewClient(config.CoordinatorConnConfig{
		Addr: "passthrough:///bufnet",
		GRPC: config.ClientGRPCConfig{KeepaliveTime: time.Minute, KeepaliveTimeout: 5 * time.Second},
	}, dialer(lis))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSubmitAndGetStatus(t *testing.T) {
	manager, lis := startServer(t)
	client := newTestClient(t, lis)
	ctx := context.Background()

	id, err := client.SubmitJob(ctx, testTemplate, "parity")
	require.NoError(t, err)
	manager.Wait()

	job, err := client.GetJobStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, "parity", job.Spec.Name)
	require.Equal(t, core.JobPhaseDone, job.Phase)
	require.Equal(t, int64(20), job.Counters.Get(counters.MapperCalls))
	require.Equal(t, int64(2), job.Counters.Get(counters.ReducerCalls))
	require.Equal(t, 3, job.Progress.Map.Done)
	require.Equal(t, core.Settings{Parallelism: 2, MaxAttempts: 2, StepRecords: 3}, job.Settings)
	require.NotNil(t, job.Output)
	require.Len(t, job.Output.Handles, 2)
	require.Nil(t, job.Output.Values)

	list, total, err := client.ListJobs(ctx, core.JobFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, id, list[0].ID)
}

func TestCancelJob(t *testing.T) {
	manager, lis := startServer(t)
	client := newTestClient(t, lis)
	ctx := context.Background()

	id, err := client.SubmitJob(ctx, slowTemplate, "")
	require.NoError(t, err)

	require.NoError(t, client.CancelJob(ctx, id))
	manager.Wait()

	job, err := client.GetJobStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.JobPhaseCancelled, job.Phase)
	require.Equal(t, slowTemplate, job.Spec.Name)

	err = client.CancelJob(ctx, id)
	require.ErrorIs(t, err, core.ErrJobFinished)
}

func TestUnknownJobs(t *testing.T) {
	_, lis := startServer(t)
	client := newTestClient(t, lis)
	ctx := context.Background()

	_, err := client.GetJobStatus(ctx, uuid.New())
	require.ErrorIs(t, err, core.ErrNoSuchJob)

	err = client.CancelJob(ctx, uuid.New())
	require.ErrorIs(t, err, core.ErrNoSuchJob)

	_, err = client.SubmitJob(ctx, "no-such-template", "")
	require.ErrorIs(t, err, jobs.ErrUnknownJob)
}

func TestInvalidJobID(t *testing.T) {
	_, lis := startServer(t)
	conn, err := grpc.NewClient("passthrough:///bufnet", dialer(lis), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Invoke(context.Background(), "/"+ServiceName+"/CancelJob", wrapperspb.String("nope"), new(emptypb.Empty))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestIncompatibleClientVersion(t *testing.T) {
	_, lis := startServer(t)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		dialer(lis),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(versionClientInterceptor("v2.3.0")),
	)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Invoke(context.Background(), "/"+ServiceName+"/GetJobStatus", wrapperspb.String(uuid.NewString()), new(emptypb.Empty))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "required v1.x.x")
}

func TestFromStatusCancelErrors(t *testing.T) {
	id := uuid.NewString()

	finished := toStatus(fmt.Errorf("%w: %s is DONE", core.ErrJobFinished, id))
	err := fromStatus(finished, "CancelJob", id)
	require.ErrorIs(t, err, core.ErrJobFinished)

	stale := toStatus(fmt.Errorf("%w: %s is MAPPING", core.ErrJobNotRunning, id))
	require.Equal(t, codes.FailedPrecondition, status.Code(stale))
	err = fromStatus(stale, "CancelJob", id)
	require.ErrorIs(t, err, core.ErrJobNotRunning)
	require.NotErrorIs(t, err, core.ErrJobFinished)
}
