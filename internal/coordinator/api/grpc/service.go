package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/shared/tracing"
	"github.com/nemanja-m/shardmr/pkg/jobs"
)

const ServiceName = "shardmr.v1.JobService"

// JobServiceServer is the server API of ServiceName. Messages are protobuf
// well-known types so no generated code is needed.
type JobServiceServer interface {
	SubmitJob(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error)
	GetJobStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelJob(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
}

type JobService struct {
	jobs     core.JobService
	defaults core.Settings
	logger   logging.Logger
}

func NewJobService(jobs core.JobService, defaults core.Settings, logger logging.Logger) *JobService {
	return &JobService{
		jobs:     jobs,
		defaults: defaults,
		logger:   logger,
	}
}

// SubmitJob starts a registered job. The request carries "template" and an
// optional "name" that defaults to the template.
func (s *JobService) SubmitJob(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	fields := req.GetFields()
	template := fields["template"].GetStringValue()
	if template == "" {
		return nil, status.Error(codes.InvalidArgument, "template is required")
	}
	name := fields["name"].GetStringValue()
	if name == "" {
		name = template
	}

	tmpl, err := jobs.Get(template)
	if err != nil {
		return nil, toStatus(err)
	}
	spec, err := jobs.FromJob(name, tmpl)
	if err != nil {
		return nil, toStatus(err)
	}

	id, err := s.jobs.StartJob(spec, s.defaults)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("Job submitted over gRPC", "job_id", id.String(), "template", template)
	return wrapperspb.String(id.String()), nil
}

func (s *JobService) GetJobStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id, err := parseJobID(req.GetValue())
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetStatus(id)
	if err != nil {
		return nil, toStatus(err)
	}
	st, err := jobToStruct(job)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

// ListJobs accepts optional "status", "limit" and "offset" fields and
// returns {"jobs": [...], "total": n}.
func (s *JobService) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	filter := core.JobFilter{
		Limit:  int(fields["limit"].GetNumberValue()),
		Offset: int(fields["offset"].GetNumberValue()),
	}
	if raw := fields["status"].GetStringValue(); raw != "" {
		phase, err := core.ParseJobPhase(raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		filter.Phase = &phase
	}

	list, total, err := s.jobs.ListJobs(filter)
	if err != nil {
		return nil, toStatus(err)
	}

	values := make([]*structpb.Value, 0, len(list))
	for _, job := range list {
		st, err := jobToStruct(job)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		values = append(values, structpb.NewStructValue(st))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"jobs":  structpb.NewListValue(&structpb.ListValue{Values: values}),
		"total": structpb.NewNumberValue(float64(total)),
	}}, nil
}

func (s *JobService) CancelJob(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id, err := parseJobID(req.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.jobs.CancelJob(id); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("Job cancelled over gRPC", "job_id", id.String())
	return &emptypb.Empty{}, nil
}

func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid job ID %q: %v", raw, err)
	}
	return id, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, core.ErrNoSuchJob), errors.Is(err, jobs.ErrUnknownJob):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrJobFinished), errors.Is(err, core.ErrJobNotRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, jobs.ErrInvalidSpecification), errors.Is(err, core.ErrInvalidSettings):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// jobToStruct converts a job through its JSON form. Output values are left
// out since they can be arbitrarily large.
func jobToStruct(job *core.Job) (*structpb.Struct, error) {
	c := job.Clone()
	if c.Output != nil {
		c.Output.Values = nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// jobFromStruct reverses jobToStruct.
func jobFromStruct(st *structpb.Struct) (*core.Job, error) {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, err
	}
	var job core.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("malformed job: %w", err)
	}
	return &job, nil
}

func tracingServerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := tracing.Start(ctx, info.FullMethod, attribute.String("rpc.system", "grpc"))
	resp, err := handler(ctx, req)
	tracing.End(span, err)
	return resp, err
}

func loggingServerInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("gRPC request failed", "method", info.FullMethod, "code", status.Code(err).String(), "error", err)
		} else {
			logger.Debug("gRPC request", "method", info.FullMethod)
		}
		return resp, err
	}
}

func RegisterJobServiceServer(s grpc.ServiceRegistrar, srv JobServiceServer) {
	s.RegisterService(&jobServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(JobServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(JobServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(JobServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var jobServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("SubmitJob", JobServiceServer.SubmitJob),
		unaryHandler("GetJobStatus", JobServiceServer.GetJobStatus),
		unaryHandler("ListJobs", JobServiceServer.ListJobs),
		unaryHandler("CancelJob", JobServiceServer.CancelJob),
	},
	Streams: []grpc.StreamDesc{},
}
