// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keypredist.
//
// go-keypredist is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package grpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "kps.v1.KeyPredistribution"

// KeyPredistributionServer is the server API. Requests and responses are
// google.protobuf.Struct messages so any protobuf client can call it
// without generated stubs.
type KeyPredistributionServer interface {
	InitPool(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterPoolUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeriveSecret(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InitMatrix(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterMatrixUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SharedValue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MatrixKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(KeyPredistributionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(KeyPredistributionServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// FullMethod returns the RPC path of a method, for use with
// grpc.ClientConn.Invoke.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc describes KeyPredistributionServer to grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KeyPredistributionServer)(nil),
	Methods: []grpc.MethodDesc{
		method("InitPool", KeyPredistributionServer.InitPool),
		method("RegisterPoolUser", KeyPredistributionServer.RegisterPoolUser),
		method("DeriveSecret", KeyPredistributionServer.DeriveSecret),
		method("InitMatrix", KeyPredistributionServer.InitMatrix),
		method("RegisterMatrixUser", KeyPredistributionServer.RegisterMatrixUser),
		method("SharedValue", KeyPredistributionServer.SharedValue),
		method("MatrixKey", KeyPredistributionServer.MatrixKey),
		method("SaveState", KeyPredistributionServer.SaveState),
		method("LoadState", KeyPredistributionServer.LoadState),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kps/v1/kps.proto",
}

// Service adapts keyserver.Service to KeyPredistributionServer.
type Service struct {
	svc *keyserver.Service
}

var _ KeyPredistributionServer = (*Service)(nil)

// NewService creates the gRPC service.
func NewService(svc *keyserver.Service) *Service {
	return &Service{svc: svc}
}

// InitPool generates a key pool from pool_size and keys_per_user.
func (s *Service) InitPool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	size, err := intField(req, "pool_size")
	if err != nil {
		return nil, err
	}
	kpu, err := intField(req, "keys_per_user")
	if err != nil {
		return nil, err
	}
	if err := s.svc.InitPool(size, kpu); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{"pool_size": size, "keys_per_user": kpu})
}

// RegisterPoolUser assigns a key ring to user_id.
func (s *Service) RegisterPoolUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := stringField(req, "user_id", true)
	if err != nil {
		return nil, err
	}
	user, err := s.svc.RegisterPoolUser(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return poolUser(user)
}

// DeriveSecret derives the pool secret of users a and b.
func (s *Service) DeriveSecret(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, b, err := userPair(req, "a", "b")
	if err != nil {
		return nil, err
	}
	ids, err := s.svc.CommonKeyIDs(a, b)
	if err != nil {
		return nil, toStatus(err)
	}
	secret, ok, err := s.svc.DeriveSecret(a, b)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := map[string]interface{}{
		"a":              a,
		"b":              b,
		"shared":         ok,
		"common_key_ids": intList(ids),
	}
	if ok {
		resp["secret"] = secret.Hex()
	}
	return newStruct(resp)
}

// InitMatrix generates a symmetric matrix. prime is an optional decimal
// string.
func (s *Service) InitMatrix(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	dim, err := intField(req, "dimension")
	if err != nil {
		return nil, err
	}
	raw, err := stringField(req, "prime", false)
	if err != nil {
		return nil, err
	}
	var prime *big.Int
	if raw != "" {
		p, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "prime %q is not a decimal integer", raw)
		}
		prime = p
	}
	if err := s.svc.InitMatrix(prime, dim); err != nil {
		return nil, toStatus(err)
	}
	p, dim, err := s.svc.MatrixParameters()
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{"prime": p.String(), "dimension": dim})
}

// RegisterMatrixUser issues a matrix column and secret row to user_id.
func (s *Service) RegisterMatrixUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := stringField(req, "user_id", true)
	if err != nil {
		return nil, err
	}
	user, err := s.svc.RegisterMatrixUser(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return matrixUser(user)
}

// SharedValue computes the Z_p value requester shares with other.
func (s *Service) SharedValue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requester, other, err := userPair(req, "requester", "other")
	if err != nil {
		return nil, err
	}
	value, err := s.svc.SharedValue(requester, other)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{
		"requester": requester,
		"other":     other,
		"value":     value.String(),
	})
}

// MatrixKey expands the shared value into a hex key of the optional size.
func (s *Service) MatrixKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requester, other, err := userPair(req, "requester", "other")
	if err != nil {
		return nil, err
	}
	size := 0
	if _, ok := req.GetFields()["size"]; ok {
		if size, err = intField(req, "size"); err != nil {
			return nil, err
		}
	}
	key, err := s.svc.MatrixKey(requester, other, size)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{
		"requester": requester,
		"other":     other,
		"key":       hex.EncodeToString(key),
	})
}

// SaveState persists every initialized scheme.
func (s *Service) SaveState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	result, err := s.svc.SaveState()
	if err != nil {
		return nil, toStatus(err)
	}
	return stateResult(result)
}

// LoadState replaces the schemes with their stored state.
func (s *Service) LoadState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	result, err := s.svc.LoadState()
	if err != nil {
		return nil, toStatus(err)
	}
	return stateResult(result)
}

func poolUser(u pool.User) (*structpb.Struct, error) {
	return newStruct(map[string]interface{}{"user_id": u.ID, "key_ids": intList(u.KeyIDs)})
}

func matrixUser(u matrix.User) (*structpb.Struct, error) {
	return newStruct(map[string]interface{}{
		"user_id":       u.ID,
		"public_vector": decimals(u.Public),
		"secret_vector": decimals(u.Secret),
	})
}

func stateResult(r keyserver.StateResult) (*structpb.Struct, error) {
	return newStruct(map[string]interface{}{"pool": r.Pool, "matrix": r.Matrix})
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func intList(ids []int) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func decimals(v []*big.Int) []interface{} {
	out := make([]interface{}, len(v))
	for i, x := range v {
		out[i] = x.String()
	}
	return out
}

func stringField(req *structpb.Struct, name string, required bool) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		if required {
			return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
		}
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a string", name)
	}
	if required && sv.StringValue == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return sv.StringValue, nil
}

// intField reads a whole number. Values outside int32 are rejected here;
// the service applies the tighter domain limits.
func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	n := nv.NumberValue
	if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer in int32 range, got %v", name, n)
	}
	return int(n), nil
}

func userPair(req *structpb.Struct, first, second string) (string, string, error) {
	a, err := stringField(req, first, true)
	if err != nil {
		return "", "", err
	}
	b, err := stringField(req, second, true)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrUnknownUser),
		errors.Is(err, storage.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrInvalidParameters),
		errors.Is(err, types.ErrInvalidAlgorithm),
		errors.Is(err, aead.ErrAuthenticationFailed):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrEmptyPool),
		errors.Is(err, types.ErrUninitializedMatrix),
		errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrNoSharedKeys):
		code = codes.FailedPrecondition
	case errors.Is(err, aead.ErrNonceReuse):
		code = codes.AlreadyExists
	case errors.Is(err, aead.ErrBytesLimitExceeded):
		code = codes.ResourceExhausted
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, fmt.Sprint(err))
}
