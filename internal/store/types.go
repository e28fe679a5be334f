package store

// Chat is a conversation with denormalized copies of its latest message.
type Chat struct {
	ID            string
	Title         string
	LastMessage   string
	LastMessageAt int64 // unix millis
	UnreadCount   int
	IsActive      bool
}

// Message is a single chat message. IsSent=false marks it as still needing
// delivery.
type Message struct {
	ID          string
	ChatID      string
	Content     string
	FromBot     bool
	Timestamp   int64 // unix millis
	IsSent      bool
	IsDelivered bool
	IsRead      bool
}
