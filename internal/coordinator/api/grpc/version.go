package grpc

import (
	"context"
	"fmt"

	"golang.org/x/mod/semver"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Version is the protocol version spoken by this build. Clients and servers
// with the same major version can talk to each other.
const Version = "v1.0.0"

const versionHeader = "x-shardmr-version"

// IsCompatibleVersion reports whether a client version can be served by a
// server version.
func IsCompatibleVersion(clientVersion, serverVersion string) (bool, error) {
	if !semver.IsValid(clientVersion) {
		return false, fmt.Errorf("invalid client version: %s", clientVersion)
	}
	if !semver.IsValid(serverVersion) {
		return false, fmt.Errorf("invalid server version: %s", serverVersion)
	}
	return semver.Major(clientVersion) == semver.Major(serverVersion), nil
}

// versionServerInterceptor rejects clients announcing an incompatible
// version. Clients that send no version are let through.
func versionServerInterceptor(serverVersion string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if values := md.Get(versionHeader); len(values) > 0 {
			ok, err := IsCompatibleVersion(values[0], serverVersion)
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			if !ok {
				return nil, status.Errorf(codes.FailedPrecondition,
					"client version %s is incompatible with server version %s, required %s.x.x",
					values[0], serverVersion, semver.Major(serverVersion))
			}
		}
		return handler(ctx, req)
	}
}

func versionClientInterceptor(clientVersion string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, versionHeader, clientVersion)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
