package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/chat"
	"github.com/matheus3301/sockchat/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Transport is the part of the websocket client the control API toggles.
type Transport interface {
	SetOfflineMode(offline bool)
	OfflineMode() bool
	QueuedCount() int
}

// Network forces the observed reachability until the next probe.
type Network interface {
	Set(reachable bool)
}

// Service implements ControlServer on top of the session controller.
type Service struct {
	profile   string
	startedAt time.Time
	ctrl      *session.Controller
	coord     *chat.Coordinator
	transport Transport
	net       Network
	bus       *bus.Bus
	logger    *zap.Logger

	// done ends open Watch streams on Close.
	done   context.Context
	cancel context.CancelFunc
}

// NewService creates the control service for a profile.
func NewService(profile string, ctrl *session.Controller, coord *chat.Coordinator, tr Transport, net Network, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	done, cancel := context.WithCancel(context.Background())
	return &Service{
		done:      done,
		cancel:    cancel,
		profile:   profile,
		startedAt: time.Now(),
		ctrl:      ctrl,
		coord:     coord,
		transport: tr,
		net:       net,
		bus:       b,
		logger:    logger,
	}
}

var _ ControlServer = (*Service)(nil)

// Close ends every open Watch stream.
func (s *Service) Close() {
	s.cancel()
}

// Status reports the connection, queue, selection and notice state.
func (s *Service) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.ctrl.Status(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "status: %v", err)
	}
	return newStruct(map[string]any{
		"profile":       s.profile,
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"reachable":     st.Reachable,
		"connected":     st.Connected,
		"state":         string(st.State),
		"queue_depth":   st.QueueDepth,
		"offline":       s.transport.OfflineMode(),
		"selected_chat": st.SelectedChat,
		"chats":         st.Chats,
		"unsent":        st.Unsent,
		"notice":        st.Notice,
	})
}

// ListChats returns active chats, most recent first.
func (s *Service) ListChats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	chats, err := s.coord.ListChats(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	list := make([]any, 0, len(chats))
	for i := range chats {
		list = append(list, chatValue(&chats[i]))
	}
	return newStruct(map[string]any{"chats": list})
}

// ListMessages returns the messages of chat_id, or of the selected chat.
func (s *Service) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(req, "chat_id")
	if chatID == "" {
		chatID = s.ctrl.Selected()
	}
	if chatID == "" {
		return nil, toStatus("list messages", session.ErrNoChatSelected)
	}
	msgs, err := s.coord.ListMessages(ctx, chatID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	list := make([]any, 0, len(msgs))
	for i := range msgs {
		list = append(list, messageValue(&msgs[i]))
	}
	return newStruct(map[string]any{"chat_id": chatID, "messages": list})
}

// CreateChat creates a chat and selects it.
func (s *Service) CreateChat(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	created, err := s.ctrl.CreateNewChat(ctx)
	if err != nil {
		return nil, toStatus("create chat", err)
	}
	return newStruct(map[string]any{"chat": chatValue(created)})
}

// SelectChat selects chat_id and marks it read.
func (s *Service) SelectChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(req, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	if err := s.ctrl.SelectChat(ctx, chatID); err != nil {
		return nil, toStatus("select chat", err)
	}
	return newStruct(map[string]any{"chat_id": chatID})
}

// SendMessage sends content to chat_id, or to the selected chat.
func (s *Service) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if chatID := stringField(req, "chat_id"); chatID != "" {
		if err := s.ctrl.SelectChat(ctx, chatID); err != nil {
			return nil, toStatus("select chat", err)
		}
	}
	delivered, err := s.ctrl.SendMessage(ctx, stringField(req, "content"))
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return newStruct(map[string]any{
		"chat_id":   s.ctrl.Selected(),
		"delivered": delivered,
	})
}

// DeleteChats removes the chats in chat_ids with their messages.
func (s *Service) DeleteChats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids := stringsField(req, "chat_ids")
	if len(ids) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_ids is required")
	}
	if err := s.ctrl.DeleteChats(ctx, ids); err != nil {
		return nil, toStatus("delete chats", err)
	}
	return newStruct(map[string]any{"deleted": len(ids)})
}

// ClearChats removes every chat and message.
func (s *Service) ClearChats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ctrl.ClearAllChats(ctx); err != nil {
		return nil, toStatus("clear chats", err)
	}
	return newStruct(nil)
}

// ClearNotice dismisses the current notice.
func (s *Service) ClearNotice(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.ctrl.ClearNotice()
	return newStruct(nil)
}

// RetryUnsent retransmits persisted unsent messages.
func (s *Service) RetryUnsent(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	before, err := s.coord.UnsentCount(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count unsent: %v", err)
	}
	if err := s.coord.RetryUnsentMessages(ctx); err != nil {
		return nil, toStatus("retry unsent", err)
	}
	return newStruct(map[string]any{"retried": before})
}

// Connect opens the socket.
func (s *Service) Connect(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.coord.ConnectSocket()
	return newStruct(nil)
}

// Disconnect closes the socket and drops the outbound queue.
func (s *Service) Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.coord.DisconnectSocket()
	return newStruct(nil)
}

// SetOffline toggles offline simulation on the transport.
func (s *Service) SetOffline(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	offline := boolField(req, "offline")
	s.transport.SetOfflineMode(offline)
	s.logger.Info("offline mode changed", zap.Bool("offline", offline))
	return newStruct(map[string]any{
		"offline": offline,
		"queued":  s.transport.QueuedCount(),
	})
}

// SetNetwork forces the observed reachability.
func (s *Service) SetNetwork(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.net == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "network observer not available")
	}
	reachable := boolField(req, "reachable")
	s.net.Set(reachable)
	s.logger.Info("reachability forced", zap.Bool("reachable", reachable))
	return newStruct(map[string]any{"reachable": reachable})
}

// Watch streams bus events whose kind starts with the requested namespace.
// Retained events are sent first.
func (s *Service) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not available")
	}
	ch, unsub := s.bus.Subscribe(stringField(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := eventValue(evt)
			if err != nil {
				s.logger.Warn("skip unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done.Done():
			return nil
		}
	}
}

func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, session.ErrNoChatSelected), errors.Is(err, chat.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, session.ErrChatNotFound):
		code = codes.NotFound
	case errors.Is(err, chat.ErrTransportUnavailable), errors.Is(err, session.ErrNotStarted):
		code = codes.FailedPrecondition
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
