package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/PaulBabatuyi/chatstore/internal/data"
	"github.com/PaulBabatuyi/chatstore/internal/normalize"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// handlerFunc serves one gateway method. Its result is encoded as a Value.
type handlerFunc func(s *Server, ctx context.Context, args *structpb.Struct) (any, error)

// handlers maps method names to their implementation. Argument names follow
// the query/mutation schema the store was consumed through.
var handlers = map[string]handlerFunc{
	"CreateUser":      (*Server).createUser,
	"FindUser":        (*Server).findUser,
	"FindUserByEmail": (*Server).findUserByEmail,
	"SearchUsers":     (*Server).searchUsers,
	"DeleteUser":      (*Server).deleteUser,
	"LoginUser":       (*Server).loginUser,
	"LogoutUser":      (*Server).logoutUser,
	"AddContact":      (*Server).addContact,
	"DeleteContact":   (*Server).deleteContact,

	"CreateConversation":            (*Server).createConversation,
	"AddMessageToConversation":      (*Server).addMessageToConversation,
	"EditMessageInConversation":     (*Server).editMessageInConversation,
	"MarkMessageDelivered":          (*Server).markMessageDelivered,
	"DeleteMessageFromConversation": (*Server).deleteMessageFromConversation,
	"FindConversation":              (*Server).findConversation,
	"FindUserConversations":         (*Server).findUserConversations,
	"DeleteConversation":            (*Server).deleteConversation,
}

type idArgs struct {
	ID string `json:"id" validate:"required"`
}

// emailArgs is a lookup key matched exactly, so it is not checked for
// address syntax.
type emailArgs struct {
	Email string `json:"email" validate:"required"`
}

type searchArgs struct {
	Input string `json:"input" validate:"required"`
}

type createUserArgs struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
}

type contactArgs struct {
	UserID    string `json:"userId" validate:"required"`
	ContactID string `json:"contactId" validate:"required"`
}

type userInput struct {
	ID string `json:"id" validate:"required"`
}

type messageInput struct {
	From    userInput `json:"from" validate:"required"`
	To      userInput `json:"to" validate:"required"`
	Subject string    `json:"subject"`
	Body    string    `json:"body" validate:"required"`
}

func (m messageInput) draft() data.MessageDraft {
	return data.MessageDraft{
		FromID:  m.From.ID,
		ToID:    m.To.ID,
		Subject: normalize.Text(m.Subject),
		Body:    m.Body,
	}
}

type createConversationArgs struct {
	Msg messageInput `json:"msg" validate:"required"`
}

type addMessageArgs struct {
	ID  string       `json:"id" validate:"required"`
	Msg messageInput `json:"msg" validate:"required"`
}

type messageRefArgs struct {
	ConversationID string `json:"conversationId" validate:"required"`
	MsgID          string `json:"msgId" validate:"required"`
}

type editMessageArgs struct {
	ConversationID string `json:"conversationId" validate:"required"`
	MsgID          string `json:"msgId" validate:"required"`
	Body           string `json:"body" validate:"required"`
}

type subscribeArgs struct {
	UserID string `json:"userId" validate:"required"`
}

// Handle dispatches a unary call to its handler and encodes the result.
func (s *Server) Handle(ctx context.Context, method string, args *structpb.Struct) (*structpb.Value, error) {
	h, ok := handlers[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	result, err := h(s, ctx, args)
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := encode(result)
	if err != nil {
		s.logger.Error("encode response failed", "method", method, "err", err)
		return nil, status.Errorf(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// Subscribe streams conversation updates for a user until the client goes away.
func (s *Server) Subscribe(args *structpb.Struct, stream grpc.ServerStream) error {
	var in subscribeArgs
	if err := s.decode(args, &in); err != nil {
		return err
	}
	if s.hub == nil {
		return status.Errorf(codes.Unavailable, "live updates disabled")
	}

	connID := s.hub.Register(in.UserID, &streamSender{stream: stream})
	defer s.hub.Unregister(in.UserID, connID)
	s.logger.Debug("subscriber connected", "user", in.UserID, "conn", connID)

	<-stream.Context().Done()
	s.logger.Debug("subscriber disconnected", "user", in.UserID, "conn", connID)
	return nil
}

// streamSender adapts a server stream to the hub. Sends are serialized since
// updates for one user can come from concurrent calls.
type streamSender struct {
	mu     sync.Mutex
	stream grpc.ServerStream
}

func (ss *streamSender) Send(v *structpb.Value) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.stream.SendMsg(v)
}

func (s *Server) createUser(ctx context.Context, args *structpb.Struct) (any, error) {
	var in createUserArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.CreateUser(ctx,
		normalize.Text(in.FirstName),
		normalize.Text(in.LastName),
		normalize.Text(in.Email),
		in.Password,
	)
}

func (s *Server) findUser(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.FindUser(ctx, in.ID)
}

func (s *Server) findUserByEmail(ctx context.Context, args *structpb.Struct) (any, error) {
	var in emailArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.FindUserByEmail(ctx, normalize.Text(in.Email))
}

func (s *Server) searchUsers(ctx context.Context, args *structpb.Struct) (any, error) {
	var in searchArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.SearchUsers(ctx, normalize.Text(in.Input))
}

func (s *Server) deleteUser(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.DeleteUser(ctx, in.ID)
}

func (s *Server) loginUser(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.LoginUser(ctx, in.ID)
}

func (s *Server) logoutUser(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.LogoutUser(ctx, in.ID)
}

func (s *Server) addContact(ctx context.Context, args *structpb.Struct) (any, error) {
	var in contactArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.AddContact(ctx, in.UserID, in.ContactID)
}

func (s *Server) deleteContact(ctx context.Context, args *structpb.Struct) (any, error) {
	var in contactArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.DeleteContact(ctx, in.UserID, in.ContactID)
}

func (s *Server) createConversation(ctx context.Context, args *structpb.Struct) (any, error) {
	var in createConversationArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	conv, err := s.store.CreateConversation(ctx, in.Msg.draft())
	if err != nil {
		return nil, err
	}
	s.notify(conv, conv.Messages[0])
	return conv, nil
}

func (s *Server) addMessageToConversation(ctx context.Context, args *structpb.Struct) (any, error) {
	var in addMessageArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	conv, err := s.store.AddMessageToConversation(ctx, in.ID, in.Msg.draft())
	if err != nil || conv == nil {
		return conv, err
	}
	s.notify(conv, conv.Messages[len(conv.Messages)-1])
	return conv, nil
}

func (s *Server) editMessageInConversation(ctx context.Context, args *structpb.Struct) (any, error) {
	var in editMessageArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	conv, err := s.store.EditMessageInConversation(ctx, in.ConversationID, in.MsgID, in.Body)
	if err != nil || conv == nil {
		return conv, err
	}
	s.notifyMessage(conv, in.MsgID)
	return conv, nil
}

func (s *Server) markMessageDelivered(ctx context.Context, args *structpb.Struct) (any, error) {
	var in messageRefArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	conv, err := s.store.MarkMessageDelivered(ctx, in.ConversationID, in.MsgID)
	if err != nil || conv == nil {
		return conv, err
	}
	s.notifyMessage(conv, in.MsgID)
	return conv, nil
}

func (s *Server) deleteMessageFromConversation(ctx context.Context, args *structpb.Struct) (any, error) {
	var in messageRefArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.DeleteMessageFromConversation(ctx, in.ConversationID, in.MsgID)
}

func (s *Server) findConversation(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.FindConversation(ctx, in.ID)
}

func (s *Server) findUserConversations(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.FindUserConversations(ctx, in.ID)
}

func (s *Server) deleteConversation(ctx context.Context, args *structpb.Struct) (any, error) {
	var in idArgs
	if err := s.decode(args, &in); err != nil {
		return nil, err
	}
	return s.store.DeleteConversation(ctx, in.ID)
}

// notifyMessage pushes conv to the participants of the message with msgID.
func (s *Server) notifyMessage(conv *data.Conversation, msgID string) {
	for _, m := range conv.Messages {
		if m.ID == msgID {
			s.notify(conv, m)
			return
		}
	}
}

// notify pushes conv to every connected participant of msg. Delivery is
// best-effort: offline users read the conversation later.
func (s *Server) notify(conv *data.Conversation, msg data.Message) {
	if s.hub == nil {
		return
	}
	update, err := encode(conv)
	if err != nil {
		s.logger.Error("encode update failed", "conversation", conv.ID, "err", err)
		return
	}
	for _, userID := range msg.ParticipantIDs() {
		if err := s.hub.SendToUser(userID, update); err != nil {
			s.logger.Debug("update not delivered", "user", userID, "conversation", conv.ID, "err", err)
		}
	}
}

// decode converts Struct arguments into dst and validates them.
func (s *Server) decode(args *structpb.Struct, dst any) error {
	raw, err := json.Marshal(args.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid arguments: %v", err)
	}
	return nil
}

// encode converts a handler result into a Value: null for absent records,
// bool for delete results, objects and lists otherwise.
func encode(v any) (*structpb.Value, error) {
	if b, ok := v.(bool); ok {
		return structpb.NewBoolValue(b), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// toStatus maps store failures onto gRPC codes. Status errors pass through.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, data.ErrNotInitialized), errors.Is(err, data.ErrConnectionFailure):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, data.ErrReferenceNotFound):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, data.ErrDuplicateUser):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, data.ErrWriteFailure):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
