package testutil

import (
	"context"
	"sync"

	"github.com/AviOnlineSec/cra/internal/model"
)

// Message is one notification captured by RecordingNotifier
type Message struct {
	Kind              string
	Email             string
	TemporaryPassword string
	Reason            string
}

// RecordingNotifier captures notifications instead of sending them. When Err
// is set every call records the message and then fails with it.
type RecordingNotifier struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (n *RecordingNotifier) record(m Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, m)
	return n.Err
}

// RegistrationReceived records a registration notice
func (n *RecordingNotifier) RegistrationReceived(_ context.Context, u *model.User) error {
	return n.record(Message{Kind: "registration", Email: u.Email})
}

// AccountApproved records an approval notice
func (n *RecordingNotifier) AccountApproved(_ context.Context, u *model.User, temp string) error {
	return n.record(Message{Kind: "approved", Email: u.Email, TemporaryPassword: temp})
}

// AccountRejected records a rejection notice
func (n *RecordingNotifier) AccountRejected(_ context.Context, u *model.User, reason string) error {
	return n.record(Message{Kind: "rejected", Email: u.Email, Reason: reason})
}

// Last returns the most recent message
func (n *RecordingNotifier) Last() (Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Messages) == 0 {
		return Message{}, false
	}
	return n.Messages[len(n.Messages)-1], true
}
