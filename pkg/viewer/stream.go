package viewer

import (
	"context"
	"fmt"

	"chatstream/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// Stream consumes the realtime event feed and folds every frame into the
// session.
type Stream struct {
	url     string
	session *Session
	logger  *logrus.Logger
}

func NewStream(url string, session *Session, logger *logrus.Logger) *Stream {
	return &Stream{
		url:     url,
		session: session,
		logger:  logger,
	}
}

// Run connects and reads until the context is cancelled or the connection
// drops. Reconnecting is the caller's policy, typically behind a retry
// backoff.
func (s *Stream) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	s.logger.WithField("url", s.url).Info("Event stream connected")

	for {
		var ev models.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream read failed: %w", err)
		}
		s.session.ApplyEvent(ev)
	}
}
