// Package viewer maintains a client-side view of one conversation: an
// ordered message list kept consistent with the server through optimistic
// sends and the realtime event stream.
package viewer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatstream/internal/models"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/sirupsen/logrus"
)

// Entry lifecycle states
var (
	StateProvisional stateless.State = "provisional"
	StateConfirmed   stateless.State = "confirmed"
	StateFailed      stateless.State = "failed"
)

// Entry lifecycle triggers
var (
	triggerConfirm stateless.Trigger = "confirm"
	triggerFail    stateless.Trigger = "fail"
)

// Entry is one message as the viewer currently believes it to be. A
// provisional entry was sent locally and not yet acknowledged; a failed
// entry stays visible so the user can see the send did not go through.
type Entry struct {
	LocalID string
	Message *models.Message
	fsm     *stateless.StateMachine
}

func newEntry(localID string, msg *models.Message, initial stateless.State) *Entry {
	fsm := stateless.NewStateMachine(initial)
	fsm.Configure(StateProvisional).
		Permit(triggerConfirm, StateConfirmed).
		Permit(triggerFail, StateFailed)
	fsm.Configure(StateConfirmed).
		Ignore(triggerConfirm)
	fsm.Configure(StateFailed).
		Ignore(triggerFail)

	return &Entry{
		LocalID: localID,
		Message: msg,
		fsm:     fsm,
	}
}

// State reports the entry's current lifecycle state.
func (e *Entry) State() string {
	return fmt.Sprint(e.fsm.MustState())
}

// Sender delivers a composed message to the server.
type Sender interface {
	Send(ctx context.Context, conversationID, body string) (*models.Message, error)
}

// Session reconciles one conversation. All state lives on a single event
// loop goroutine; the exported methods hand work to it, so no mutex guards
// the entry list.
type Session struct {
	conversationID string
	sender         Sender
	logger         *logrus.Logger

	cmds      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	entries      []*Entry
	byExternalID map[string]*Entry
	sending      bool
}

func NewSession(conversationID string, sender Sender, logger *logrus.Logger) *Session {
	s := &Session{
		conversationID: conversationID,
		sender:         sender,
		logger:         logger,
		cmds:           make(chan func(), 32),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		byExternalID:   make(map[string]*Entry),
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do hands fn to the event loop and waits for it to run. After Close it is
// a no-op.
func (s *Session) do(fn func()) {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
		select {
		case <-ran:
		case <-s.done:
		}
	case <-s.done:
	}
}

// Seed loads the server's current message list, replacing local state.
// Failed entries are kept: the server never saw them.
func (s *Session) Seed(messages []*models.Message) {
	s.do(func() {
		var failed []*Entry
		for _, e := range s.entries {
			if e.State() == "failed" {
				failed = append(failed, e)
			}
		}

		s.entries = nil
		s.byExternalID = make(map[string]*Entry)
		for _, msg := range messages {
			e := newEntry(uuid.NewString(), msg, StateConfirmed)
			s.entries = append(s.entries, e)
			s.byExternalID[msg.ExternalID] = e
		}
		s.entries = append(s.entries, failed...)
	})
}

// Send optimistically appends a provisional entry and delivers the message
// in the background. Only one send is in flight at a time; a second call
// while one is pending is rejected.
func (s *Session) Send(ctx context.Context, body string) error {
	var err error
	s.do(func() {
		if s.sending {
			err = fmt.Errorf("a send is already in flight")
			return
		}
		s.sending = true

		provisional := &models.Message{
			ConversationID: s.conversationID,
			ExternalID:     fmt.Sprintf("local-%s", uuid.NewString()),
			Direction:      models.DirectionOutgoing,
			Kind:           models.KindText,
			Body:           body,
			CreatedAt:      time.Now().UTC(),
			Status:         models.MessageStatusSent,
		}
		entry := newEntry(uuid.NewString(), provisional, StateProvisional)
		s.entries = append(s.entries, entry)
		s.byExternalID[provisional.ExternalID] = entry

		go s.deliver(ctx, entry, body)
	})
	return err
}

// deliver runs off the event loop; its outcome is posted back onto it.
func (s *Session) deliver(ctx context.Context, entry *Entry, body string) {
	msg, err := s.sender.Send(ctx, s.conversationID, body)

	s.do(func() {
		s.sending = false

		if err != nil {
			if fireErr := entry.fsm.Fire(triggerFail); fireErr != nil {
				s.logger.WithError(fireErr).Warn("Entry state transition rejected")
			}
			s.logger.WithError(err).Warn("Send failed, entry marked failed")
			return
		}

		// The server's identity replaces the local one in place, so the
		// entry keeps its position in the list.
		delete(s.byExternalID, entry.Message.ExternalID)
		entry.Message = msg
		s.byExternalID[msg.ExternalID] = entry
		if fireErr := entry.fsm.Fire(triggerConfirm); fireErr != nil {
			s.logger.WithError(fireErr).Warn("Entry state transition rejected")
		}
	})
}

// ApplyEvent folds a realtime event into the view. A new_message frame for
// an external id already present is the echo of a confirmed send and is
// ignored.
func (s *Session) ApplyEvent(ev models.Event) {
	s.do(func() {
		switch ev.Type {
		case models.EventNewMessage:
			if ev.Message == nil || ev.Message.ConversationID != s.conversationID {
				return
			}
			if _, seen := s.byExternalID[ev.Message.ExternalID]; seen {
				return
			}
			// The broadcast echo of an in-flight send can arrive before the
			// HTTP confirmation. Adopt the server identity on the matching
			// provisional entry instead of appending a duplicate.
			if ev.Message.Direction == models.DirectionOutgoing {
				for _, e := range s.entries {
					if e.State() == "provisional" && e.Message.Body == ev.Message.Body {
						delete(s.byExternalID, e.Message.ExternalID)
						e.Message = ev.Message
						s.byExternalID[ev.Message.ExternalID] = e
						if fireErr := e.fsm.Fire(triggerConfirm); fireErr != nil {
							s.logger.WithError(fireErr).Warn("Entry state transition rejected")
						}
						return
					}
				}
			}
			entry := newEntry(uuid.NewString(), ev.Message, StateConfirmed)
			s.entries = append(s.entries, entry)
			s.byExternalID[ev.Message.ExternalID] = entry

		case models.EventStatusUpdate:
			if ev.Status == nil {
				return
			}
			entry, ok := s.byExternalID[ev.Status.ExternalID]
			if !ok {
				// Status for a message this view never loaded.
				return
			}
			if models.ShouldPromote(entry.Message.Status, ev.Status.Status) {
				entry.Message.Status = ev.Status.Status
			}
		}
	})
}

// Snapshot returns the entries in display order. Messages are copied so
// callers cannot race the event loop.
func (s *Session) Snapshot() []Entry {
	var out []Entry
	s.do(func() {
		out = make([]Entry, 0, len(s.entries))
		for _, e := range s.entries {
			msg := *e.Message
			out = append(out, Entry{LocalID: e.LocalID, Message: &msg, fsm: e.fsm})
		}
	})
	return out
}

// Close stops the event loop. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}
