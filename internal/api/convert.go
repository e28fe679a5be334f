package api

import (
	"fmt"

	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/status"
	"github.com/matheus3301/sockchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func chatValue(c *store.Chat) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"title":           c.Title,
		"last_message":    c.LastMessage,
		"last_message_at": c.LastMessageAt,
		"unread_count":    c.UnreadCount,
	}
}

func messageValue(m *store.Message) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"chat_id":      m.ChatID,
		"content":      m.Content,
		"from_bot":     m.FromBot,
		"timestamp":    m.Timestamp,
		"is_sent":      m.IsSent,
		"is_delivered": m.IsDelivered,
		"is_read":      m.IsRead,
	}
}

func eventValue(evt bus.Event) (*structpb.Struct, error) {
	var payload any
	switch p := evt.Payload.(type) {
	case nil, bool, string, int:
		payload = p
	case status.Change:
		payload = map[string]any{"from": string(p.From), "to": string(p.To)}
	default:
		payload = fmt.Sprint(p)
	}
	return structpb.NewStruct(map[string]any{
		"kind":    evt.Kind,
		"ts_ms":   evt.Timestamp.UnixMilli(),
		"payload": payload,
	})
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func stringsField(s *structpb.Struct, key string) []string {
	var out []string
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		if str := v.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}
