package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collab-service/internal/models"
)

const (
	statusSubscribed = "SUBSCRIBED"
	streamBuffer     = 64
	defaultWriteWait = 10 * time.Second
)

// ErrNotSubscribed is returned by channel operations before Subscribe succeeds.
var ErrNotSubscribed = errors.New("channel not subscribed")

// WSChannel implements Channel over the collab-service websocket endpoint.
type WSChannel struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSChannel builds a channel for baseURL (http(s) or ws(s)) authenticated with token.
func NewWSChannel(baseURL, token string, logger zerolog.Logger) *WSChannel {
	return &WSChannel{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *WSChannel) endpoint(sessionID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/sessions/" + sessionID
}

// Subscribe dials the room and waits for the SUBSCRIBED status frame.
func (c *WSChannel) Subscribe(ctx context.Context, sessionID string) (Streams, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(sessionID), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return Streams{}, statusError(resp.StatusCode, readErrorBody(resp.Body))
		}
		return Streams{}, fmt.Errorf("dial room: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		var frame models.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			_ = conn.Close()
			return Streams{}, fmt.Errorf("await subscription: %w", err)
		}
		if frame.Family == models.FamilyStatus && frame.Status == statusSubscribed {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	c.conn = conn

	changes := make(chan models.ChangeEvent, streamBuffer)
	broadcasts := make(chan models.BroadcastEvent, streamBuffer)
	presence := make(chan models.PresenceSync, streamBuffer)
	go c.readLoop(changes, broadcasts, presence)

	return Streams{Changes: changes, Broadcasts: broadcasts, Presence: presence, Done: c.done}, nil
}

func (c *WSChannel) readLoop(changes chan<- models.ChangeEvent, broadcasts chan<- models.BroadcastEvent, presence chan<- models.PresenceSync) {
	defer func() {
		close(changes)
		close(broadcasts)
		close(presence)
		c.markDone()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("room channel read ended")
			}
			return
		}
		var frame models.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed server frame")
			continue
		}

		switch frame.Family {
		case models.FamilyChange:
			if frame.Change == nil {
				continue
			}
			select {
			case changes <- *frame.Change:
			case <-c.done:
				return
			}
		case models.FamilyBroadcast:
			if frame.Broadcast == nil {
				continue
			}
			select {
			case broadcasts <- *frame.Broadcast:
			case <-c.done:
				return
			}
		case models.FamilyPresence:
			if frame.Presence == nil {
				continue
			}
			select {
			case presence <- *frame.Presence:
			case <-c.done:
				return
			}
		}
	}
}

func (c *WSChannel) writeFrame(frame models.ClientFrame) error {
	if c.conn == nil {
		return ErrNotSubscribed
	}
	select {
	case <-c.done:
		return ErrNotSubscribed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	return c.conn.WriteJSON(frame)
}

// Track announces presence on the room.
func (c *WSChannel) Track(_ context.Context, meta models.PresenceMeta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.writeFrame(models.ClientFrame{Type: models.ClientTrack, Payload: payload})
}

// Untrack withdraws presence.
func (c *WSChannel) Untrack(_ context.Context) error {
	return c.writeFrame(models.ClientFrame{Type: models.ClientUntrack})
}

// Broadcast sends an ephemeral event to the other room members.
func (c *WSChannel) Broadcast(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.writeFrame(models.ClientFrame{Type: models.ClientBroadcast, Event: event, Payload: data})
}

// Close ends the subscription.
func (c *WSChannel) Close() error {
	if c.conn == nil {
		c.markDone()
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.markDone()
	return c.conn.Close()
}

func (c *WSChannel) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}
