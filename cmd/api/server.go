package main

import (
	"context"
	"sort"

	"github.com/PaulBabatuyi/chatstore/internal/data"
	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceName is the gRPC service the gateway registers. Arguments travel as
// google.protobuf.Struct and results as google.protobuf.Value, so the method
// set mirrors the query/mutation fields the store was designed for.
const serviceName = "chat.v1.ChatStore"

// ChatStore is the store contract the gateway depends on. *data.Store
// implements it.
type ChatStore interface {
	CreateUser(ctx context.Context, firstName, lastName, email, password string) (*data.User, error)
	FindUser(ctx context.Context, id string) (*data.User, error)
	FindUserByEmail(ctx context.Context, email string) (*data.User, error)
	SearchUsers(ctx context.Context, prefix string) ([]*data.User, error)
	DeleteUser(ctx context.Context, id string) (bool, error)
	LoginUser(ctx context.Context, id string) (*data.User, error)
	LogoutUser(ctx context.Context, id string) (*data.User, error)
	AddContact(ctx context.Context, userID, contactID string) (*data.User, error)
	DeleteContact(ctx context.Context, userID, contactID string) (*data.User, error)

	CreateConversation(ctx context.Context, draft data.MessageDraft) (*data.Conversation, error)
	AddMessageToConversation(ctx context.Context, conversationID string, draft data.MessageDraft) (*data.Conversation, error)
	EditMessageInConversation(ctx context.Context, conversationID, msgID, body string) (*data.Conversation, error)
	MarkMessageDelivered(ctx context.Context, conversationID, msgID string) (*data.Conversation, error)
	DeleteMessageFromConversation(ctx context.Context, conversationID, msgID string) (bool, error)
	FindConversation(ctx context.Context, id string) (*data.Conversation, error)
	FindUserConversations(ctx context.Context, userID string) ([]*data.Conversation, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)
}

var _ ChatStore = (*data.Store)(nil)

// ChatStoreServer is the handler type registered with gRPC.
type ChatStoreServer interface {
	Handle(ctx context.Context, method string, args *structpb.Struct) (*structpb.Value, error)
	Subscribe(args *structpb.Struct, stream grpc.ServerStream) error
}

// Server implements the gateway and holds references to the store and hub.
type Server struct {
	store    ChatStore
	hub      *ConnectionHub
	logger   *log.Logger
	validate *validator.Validate
}

// newServer returns a ready-to-use Server. hub may be nil to disable live updates.
func newServer(store ChatStore, hub *ConnectionHub, logger *log.Logger) *Server {
	return &Server{
		store:    store,
		hub:      hub,
		logger:   logger.WithPrefix("api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// fullMethod returns the gRPC path of a method of the service.
func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// serviceDesc builds the descriptor protoc would otherwise generate.
func serviceDesc() *grpc.ServiceDesc {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ChatStoreServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		}},
		Metadata: "chat/v1/chat_store.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name),
		})
	}
	return desc
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(ChatStoreServer).Handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(ChatStoreServer).Handle(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatStoreServer).Subscribe(in, stream)
}

// registerService registers the gateway on the given gRPC server.
func registerService(s grpc.ServiceRegistrar, srv *Server) {
	s.RegisterService(serviceDesc(), srv)
}

// Client calls the gateway over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection to the gateway.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a unary method with the given arguments.
func (c *Client) Call(ctx context.Context, method string, args map[string]any, opts ...grpc.CallOption) (*structpb.Value, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Value)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe opens a live update stream for userID. Updates are received with
// RecvMsg into a *structpb.Value.
func (c *Client) Subscribe(ctx context.Context, userID string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	desc := serviceDesc()
	stream, err := c.cc.NewStream(ctx, &desc.Streams[0], fullMethod("Subscribe"), opts...)
	if err != nil {
		return nil, err
	}
	in, err := structpb.NewStruct(map[string]any{"userId": userID})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
