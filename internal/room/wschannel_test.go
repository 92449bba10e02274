package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"collab-service/internal/models"
)

type wsServer struct {
	srv      *httptest.Server
	received chan models.ClientFrame
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{received: make(chan models.ClientFrame, 16), conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, `{"error":"Not authenticated"}`, http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/ws/sessions/s1" {
			http.Error(w, `{"error":"not a participant of this session"}`, http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteJSON(models.ServerFrame{Family: models.FamilyStatus, Status: statusSubscribed})
		s.conns <- conn
		for {
			var frame models.ClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			s.received <- frame
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) next(t *testing.T) models.ClientFrame {
	t.Helper()
	select {
	case f := <-s.received:
		return f
	case <-time.After(time.Second):
		t.Fatal("no client frame")
		return models.ClientFrame{}
	}
}

func TestWSChannelRoutesFamilies(t *testing.T) {
	s := newWSServer(t)
	ch := NewWSChannel(s.srv.URL, "tok", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	streams, err := ch.Subscribe(ctx, "s1")
	require.NoError(t, err)
	defer ch.Close()

	conn := <-s.conns
	change, err := models.NewChangeEvent(models.TableMessages, models.OpInsert, models.Message{ID: "m1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ServerFrame{Family: models.FamilyChange, Change: &change}))
	require.NoError(t, conn.WriteJSON(models.ServerFrame{Family: models.FamilyBroadcast, Broadcast: &models.BroadcastEvent{Event: models.BroadcastTyping, Payload: json.RawMessage(`{"user_id":"u2"}`)}}))
	require.NoError(t, conn.WriteJSON(models.ServerFrame{Family: models.FamilyPresence, Presence: &models.PresenceSync{State: map[string][]models.PresenceMeta{"u2": {{UserID: "u2"}}}}}))

	select {
	case got := <-streams.Changes:
		require.Equal(t, models.TableMessages, got.Table)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}
	select {
	case got := <-streams.Broadcasts:
		require.Equal(t, models.BroadcastTyping, got.Event)
	case <-time.After(time.Second):
		t.Fatal("no broadcast")
	}
	select {
	case got := <-streams.Presence:
		require.Contains(t, got.State, "u2")
	case <-time.After(time.Second):
		t.Fatal("no presence sync")
	}
}

func TestWSChannelClientFrames(t *testing.T) {
	s := newWSServer(t)
	ch := NewWSChannel(s.srv.URL, "tok", zerolog.Nop())
	_, err := ch.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	<-s.conns

	require.NoError(t, ch.Track(context.Background(), models.PresenceMeta{UserID: "u1", Name: "Ada"}))
	frame := s.next(t)
	require.Equal(t, models.ClientTrack, frame.Type)

	require.NoError(t, ch.Broadcast(context.Background(), models.BroadcastRead, models.ReadPayload{MessageID: "m1", UserID: "u1"}))
	frame = s.next(t)
	require.Equal(t, models.ClientBroadcast, frame.Type)
	require.Equal(t, models.BroadcastRead, frame.Event)
	require.JSONEq(t, `{"message_id":"m1","user_id":"u1"}`, string(frame.Payload))

	require.NoError(t, ch.Untrack(context.Background()))
	require.Equal(t, models.ClientUntrack, s.next(t).Type)

	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.Broadcast(context.Background(), models.BroadcastRead, nil), ErrNotSubscribed)
}

func TestWSChannelServerCloseEndsStreams(t *testing.T) {
	s := newWSServer(t)
	ch := NewWSChannel(s.srv.URL, "tok", zerolog.Nop())
	streams, err := ch.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	conn := <-s.conns
	require.NoError(t, conn.Close())

	select {
	case <-streams.Done:
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
	_, open := <-streams.Changes
	require.False(t, open)
}

func TestWSChannelHandshakeErrors(t *testing.T) {
	s := newWSServer(t)

	_, err := NewWSChannel(s.srv.URL, "bad", zerolog.Nop()).Subscribe(context.Background(), "s1")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = NewWSChannel(s.srv.URL, "tok", zerolog.Nop()).Subscribe(context.Background(), "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
}
