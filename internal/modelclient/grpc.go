package modelclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/torosent/gauntlet/internal/auth"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/tracing"
)

// grpcTransport invokes a unary method described by a .proto file. The
// provider payload is unmarshaled into the input message as JSON and the
// response message is marshaled back to JSON for extraction, so gRPC
// deployments need no generated stubs.
type grpcTransport struct {
	dep      config.Deployment
	provider string
	auth     auth.Provider

	methodOnce sync.Once
	methodDesc *desc.MethodDescriptor
	methodErr  error

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func newGRPCTransport(dep config.Deployment, provider string, authProvider auth.Provider) *grpcTransport {
	return &grpcTransport{dep: dep, provider: provider, auth: authProvider}
}

func (t *grpcTransport) call(ctx context.Context, req *Request) (*extract.Reply, error) {
	method, err := t.methodDescriptor()
	if err != nil {
		return nil, fmt.Errorf("load proto descriptor: %w", err)
	}

	payload, err := buildPayload(t.provider, req)
	if err != nil {
		return nil, err
	}
	reqMsg := dynamic.NewMessage(method.GetInputType())
	if err := reqMsg.UnmarshalJSON(payload); err != nil {
		return nil, fmt.Errorf("encode grpc request: %w", err)
	}
	respMsg := dynamic.NewMessage(method.GetOutputType())

	conn, err := t.connect()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	key, value, err := t.auth.Header(ctx)
	if err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}
	md := metadata.MD{}
	tracing.InjectGRPCMetadata(ctx, md)
	if key != "" {
		md.Set(key, value)
	}
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	fullMethod := fmt.Sprintf("/%s/%s", t.dep.GRPC.Service, method.GetName())
	err = conn.Invoke(ctx, fullMethod, protoadapt.MessageV2Of(reqMsg), protoadapt.MessageV2Of(respMsg))
	if err != nil {
		return nil, t.asCallError(ctx, err)
	}

	body, err := respMsg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decode grpc response: %w", err)
	}
	reply := extract.Parse(t.provider, body)
	return &reply, nil
}

func (t *grpcTransport) asCallError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("model call: %w", ctxErr)
	}
	st, ok := status.FromError(err)
	if !ok {
		return &TransportError{Op: "invoke", Err: err}
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &QuotaError{Status: 429, Message: st.Message()}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &FatalAuthError{Status: 401, Message: st.Message()}
	case codes.InvalidArgument, codes.NotFound, codes.Unimplemented:
		return &APIError{Status: 400, Message: st.Message()}
	default:
		return &TransportError{Op: "invoke", Err: err}
	}
}

func (t *grpcTransport) methodDescriptor() (*desc.MethodDescriptor, error) {
	t.methodOnce.Do(func() {
		t.methodDesc, t.methodErr = loadMethodDescriptor(t.dep.GRPC)
	})
	return t.methodDesc, t.methodErr
}

func loadMethodDescriptor(cfg config.GRPCSettings) (*desc.MethodDescriptor, error) {
	protoPath := strings.TrimSpace(cfg.ProtoFile)
	if protoPath == "" {
		return nil, fmt.Errorf("grpc proto_file is required")
	}
	parser := protoparse.Parser{
		ImportPaths: []string{filepath.Dir(protoPath)},
	}
	files, err := parser.ParseFiles(filepath.Base(protoPath))
	if err != nil {
		return nil, err
	}
	serviceName := strings.TrimSpace(cfg.Service)
	methodName := strings.TrimSpace(cfg.Method)
	for _, file := range files {
		for _, svc := range file.GetServices() {
			if matchesServiceName(svc, serviceName) {
				if method := svc.FindMethodByName(methodName); method != nil {
					return method, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("method %s not found in service %s", methodName, serviceName)
}

func matchesServiceName(svc *desc.ServiceDescriptor, target string) bool {
	if target == "" {
		return false
	}
	if svc.GetFullyQualifiedName() == target {
		return true
	}
	return svc.GetName() == target || strings.HasSuffix(target, "."+svc.GetName())
}

func (t *grpcTransport) connect() (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	var opts []grpc.DialOption
	gc := t.dep.GRPC
	if gc.TLS {
		if gc.Insecure {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})))
		} else {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(t.dep.URL, opts...)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return conn, nil
}

func (t *grpcTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
