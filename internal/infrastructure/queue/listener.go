package queue

import (
	"sync"
	"time"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

// Enqueuer accepts audit events for asynchronous processing.
type Enqueuer interface {
	Enqueue(event ports.AuthEventInput) bool
}

// AuditListener turns backend session transitions into audit events.
//
// SIGNED_OUT arrives without a session, so the listener remembers the last
// session it saw to attribute the sign-out to a user.
type AuditListener struct {
	queue Enqueuer
	now   func() time.Time

	mu   sync.Mutex
	last *domain.Session
}

// NewAuditListener creates an AuditListener feeding queue.
func NewAuditListener(queue Enqueuer) *AuditListener {
	return &AuditListener{
		queue: queue,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Listener returns the callback to register with the backend.
func (l *AuditListener) Listener() ports.SessionListener {
	return l.handle
}

func (l *AuditListener) handle(event domain.AuthChangeEvent, session *domain.Session) {
	l.mu.Lock()
	subject := session
	if session.HasUser() {
		l.last = session
	} else {
		subject = l.last
		l.last = nil
	}
	l.mu.Unlock()

	if !subject.HasUser() {
		return
	}

	l.queue.Enqueue(ports.AuthEventInput{
		Event:     event,
		UserID:    subject.User.ID,
		Email:     subject.User.Email,
		SessionID: subject.ID,
		Timestamp: l.now(),
	})
}
