package xgrpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ProtoLogValue is implemented by requests that choose their own log
// representation, for example to redact or summarize large payloads.
type ProtoLogValue interface {
	AsLogValue() any
}

// AccessLogInterceptor returns a gRPC unary server interceptor that logs
// requests and responses.
//
// The interceptor logs:
// - Debug: method entry with the request
// - Info: successful completion with duration and status
// - Error: failed calls with duration, status and error message
func AccessLogInterceptor(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		now := time.Now()
		service, method, err := ParseFullMethod(info.FullMethod)
		if err != nil {
			service, method = "", info.FullMethod
		}

		if log.Level().Enabled(zap.DebugLevel) {
			log.Debugw("started gRPC execution",
				zap.String("service", service),
				zap.String("method", method),
				zap.Any("request", logValue(req)),
			)
		}

		resp, err := handler(ctx, req)
		duration := time.Since(now)
		st, _ := status.FromError(err)

		if err != nil {
			log.Errorw("failed to execute gRPC",
				zap.String("service", service),
				zap.String("method", method),
				zap.String("status", st.Code().String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			log.Infow("completed gRPC execution",
				zap.String("service", service),
				zap.String("method", method),
				zap.String("status", st.Code().String()),
				zap.Duration("duration", duration),
			)
		}

		return resp, err
	}
}

func logValue(req any) any {
	switch v := req.(type) {
	case ProtoLogValue:
		return v.AsLogValue()
	case proto.Message:
		return messageFields(v)
	default:
		return nil
	}
}

// messageFields flattens the populated fields of msg into a map.
func messageFields(msg proto.Message) map[string]any {
	result := map[string]any{}

	msg.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		name := string(fd.Name())

		switch {
		case fd.IsList() && fd.Kind() == protoreflect.MessageKind:
			list := v.List()
			items := make([]any, list.Len())
			for idx := range list.Len() {
				items[idx] = messageFields(list.Get(idx).Message().Interface())
			}
			result[name] = items
		case fd.IsMap() && fd.MapValue().Kind() == protoreflect.MessageKind:
			entries := map[string]any{}
			v.Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
				entries[k.String()] = messageFields(v.Message().Interface())
				return true
			})
			result[name] = entries
		case fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap():
			result[name] = messageFields(v.Message().Interface())
		default:
			result[name] = v.Interface()
		}
		return true
	})

	return result
}
