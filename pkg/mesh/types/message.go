package types

import (
	"sort"
	"time"
)

// MessageStatus is the user-visible lifecycle state of a Message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusQueued    MessageStatus = "queued"
)

// Message is the durable, application-facing record of a piece of content
// exchanged between two nodes.
type Message struct {
	ID         string
	Content    string
	SenderID   string
	ReceiverID string
	Timestamp  int64
	Hops       []string
	Status     MessageStatus
	RetryCount int
	Synced     bool
}

// ConversationKey returns the canonical, order-independent key for the
// conversation between a and b: the lexicographically smaller id first.
func ConversationKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

// PendingRetry is the durable record kept for a MESSAGE packet that has been
// emitted but not yet acknowledged, or that could not be emitted at all.
type PendingRetry struct {
	ID          string
	Packet      Packet
	Retries     int
	LastAttempt time.Time
}
