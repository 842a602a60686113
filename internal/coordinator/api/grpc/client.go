package grpc

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/google/uuid"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/config"
	"github.com/nemanja-m/shardmr/pkg/jobs"
)

// Client talks to the job service of a coordinator.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(cfg config.CoordinatorConnConfig, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                cfg.GRPC.KeepaliveTime,
				Timeout:             cfg.GRPC.KeepaliveTimeout,
				PermitWithoutStream: true,
			},
		),
		grpc.WithUnaryInterceptor(versionClientInterceptor(Version)),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) SubmitJob(ctx context.Context, template, name string) (uuid.UUID, error) {
	req, err := structpb.NewStruct(map[string]any{"template": template, "name": name})
	if err != nil {
		return uuid.Nil, err
	}
	resp := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, "SubmitJob", req, resp); err != nil {
		return uuid.Nil, fromStatus(err, "SubmitJob", template)
	}
	return uuid.Parse(resp.GetValue())
}

func (c *Client) GetJobStatus(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, "GetJobStatus", wrapperspb.String(id.String()), resp); err != nil {
		return nil, fromStatus(err, "GetJobStatus", id.String())
	}
	return jobFromStruct(resp)
}

func (c *Client) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int, error) {
	fields := map[string]any{
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}
	if filter.Phase != nil {
		fields["status"] = string(*filter.Phase)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, 0, err
	}

	resp := new(structpb.Struct)
	if err := c.invoke(ctx, "ListJobs", req, resp); err != nil {
		return nil, 0, fromStatus(err, "ListJobs", "")
	}

	var list []*core.Job
	for _, v := range resp.GetFields()["jobs"].GetListValue().GetValues() {
		job, err := jobFromStruct(v.GetStructValue())
		if err != nil {
			return nil, 0, err
		}
		list = append(list, job)
	}
	return list, int(resp.GetFields()["total"].GetNumberValue()), nil
}

func (c *Client) CancelJob(ctx context.Context, id uuid.UUID) error {
	if err := c.invoke(ctx, "CancelJob", wrapperspb.String(id.String()), new(emptypb.Empty)); err != nil {
		return fromStatus(err, "CancelJob", id.String())
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp)
}

// fromStatus maps status codes back to the service's sentinel errors.
func fromStatus(err error, method, subject string) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch {
	case st.Code() == codes.NotFound && method == "SubmitJob":
		return fmt.Errorf("%w: %s", jobs.ErrUnknownJob, subject)
	case st.Code() == codes.NotFound:
		return fmt.Errorf("%w: %s", core.ErrNoSuchJob, subject)
	case st.Code() == codes.FailedPrecondition && method == "CancelJob":
		if strings.Contains(st.Message(), core.ErrJobNotRunning.Error()) {
			return fmt.Errorf("%w: %s", core.ErrJobNotRunning, subject)
		}
		return fmt.Errorf("%w: %s", core.ErrJobFinished, subject)
	}
	return fmt.Errorf("%s failed: %s: %s", method, st.Code(), st.Message())
}
