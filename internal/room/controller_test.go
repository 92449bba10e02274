package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-service/internal/models"
)

type backendMock struct {
	mock.Mock
}

func (m *backendMock) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *backendMock) ListParticipants(ctx context.Context, sessionID string) ([]models.ParticipantWithProfile, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ParticipantWithProfile), args.Error(1)
}

func (m *backendMock) ListReactions(ctx context.Context, sessionID string, messageIDs []string) ([]models.Reaction, error) {
	args := m.Called(ctx, sessionID, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reaction), args.Error(1)
}

func (m *backendMock) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Profile), args.Error(1)
}

// SendMessage accepts either a models.Message or a func(clientID) models.Message return value.
func (m *backendMock) SendMessage(ctx context.Context, sessionID, content, clientID string) (models.Message, error) {
	args := m.Called(ctx, sessionID, content, clientID)
	if fn, ok := args.Get(0).(func(string) models.Message); ok {
		return fn(clientID), args.Error(1)
	}
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *backendMock) SendImage(ctx context.Context, sessionID, content, clientID string, img ImageUpload) (models.Message, error) {
	args := m.Called(ctx, sessionID, content, clientID, img)
	if fn, ok := args.Get(0).(func(string) models.Message); ok {
		return fn(clientID), args.Error(1)
	}
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *backendMock) AddReaction(ctx context.Context, sessionID, messageID, emoji string) (models.Reaction, error) {
	args := m.Called(ctx, sessionID, messageID, emoji)
	return args.Get(0).(models.Reaction), args.Error(1)
}

func (m *backendMock) RemoveReaction(ctx context.Context, sessionID, messageID, emoji string) error {
	args := m.Called(ctx, sessionID, messageID, emoji)
	return args.Error(0)
}

type sentBroadcast struct {
	event   string
	payload any
}

type fakeChannel struct {
	mu         sync.Mutex
	changes    chan models.ChangeEvent
	broadcasts chan models.BroadcastEvent
	presence   chan models.PresenceSync
	done       chan struct{}
	doneOnce   sync.Once

	subscribeErr error
	trackErr     error
	tracked      []models.PresenceMeta
	untracked    int
	closed       bool
	sent         []sentBroadcast
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		changes:    make(chan models.ChangeEvent),
		broadcasts: make(chan models.BroadcastEvent),
		presence:   make(chan models.PresenceSync),
		done:       make(chan struct{}),
	}
}

func (f *fakeChannel) Subscribe(_ context.Context, _ string) (Streams, error) {
	if f.subscribeErr != nil {
		return Streams{}, f.subscribeErr
	}
	return Streams{Changes: f.changes, Broadcasts: f.broadcasts, Presence: f.presence, Done: f.done}, nil
}

func (f *fakeChannel) Track(_ context.Context, meta models.PresenceMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return f.trackErr
	}
	f.tracked = append(f.tracked, meta)
	return nil
}

func (f *fakeChannel) Untrack(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracked++
	return nil
}

func (f *fakeChannel) Broadcast(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentBroadcast{event: event, payload: payload})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.lose()
	return nil
}

func (f *fakeChannel) lose() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeChannel) broadcastsSent(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, b := range f.sent {
		if b.event == event {
			out = append(out, b.payload)
		}
	}
	return out
}

type controllerFixture struct {
	backend *backendMock
	channel *fakeChannel
	ctrl    *Controller

	mu      sync.Mutex
	notices []error
}

func newControllerFixture(t *testing.T, ttl time.Duration) *controllerFixture {
	t.Helper()
	f := &controllerFixture{backend: &backendMock{}, channel: newFakeChannel()}
	f.ctrl = NewController(f.backend, f.channel, Config{
		SessionID: "s1",
		SelfID:    "u1",
		SelfName:  "Ada",
		Logger:    zerolog.Nop(),
		TypingTTL: ttl,
		Notify: func(err error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.notices = append(f.notices, err)
		},
	})
	t.Cleanup(func() { _ = f.ctrl.Close(context.Background()) })
	return f
}

func (f *controllerFixture) openWith(t *testing.T, msgs []models.Message, parts []models.ParticipantWithProfile, reactions []models.Reaction) {
	t.Helper()
	f.backend.On("ListMessages", mock.Anything, "s1").Return(msgs, nil).Once()
	f.backend.On("ListParticipants", mock.Anything, "s1").Return(parts, nil).Once()
	f.backend.On("ListReactions", mock.Anything, "s1", mock.Anything).Return(reactions, nil).Once()
	require.NoError(t, f.ctrl.Open(context.Background()))
}

func (f *controllerFixture) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

// deliver hands v to the pump. The fake streams are unbuffered, so a
// completed send means the pump has finished with every earlier event.
func deliver[T any](t *testing.T, ch chan T, v T) {
	t.Helper()
	select {
	case ch <- v:
	case <-time.After(time.Second):
		t.Fatal("room pump stopped receiving")
	}
}

// flush waits until every event delivered before it has been applied.
// The barrier row names no known table and leaves the state untouched.
func (f *controllerFixture) flush(t *testing.T) {
	t.Helper()
	deliver(t, f.channel.changes, models.ChangeEvent{Table: "barrier", Op: models.OpInsert})
}

func (f *controllerFixture) pushPresence(t *testing.T, ps models.PresenceSync) {
	t.Helper()
	deliver(t, f.channel.presence, ps)
}

func (f *controllerFixture) pushChange(t *testing.T, table, op string, row any) {
	t.Helper()
	ev, err := models.NewChangeEvent(table, op, row)
	require.NoError(t, err)
	deliver(t, f.channel.changes, ev)
}

func (f *controllerFixture) pushBroadcast(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	deliver(t, f.channel.broadcasts, models.BroadcastEvent{Event: event, Payload: data})
}

func TestOpenLoadsRoomAndGoesLive(t *testing.T) {
	f := newControllerFixture(t, 0)
	name := "Bo"
	f.backend.On("GetProfile", mock.Anything, "u2").Return(models.Profile{ID: "u2", FullName: &name}, nil).Once()

	require.Equal(t, StatusConnecting, f.ctrl.Status())
	f.openWith(t,
		[]models.Message{confirmed("m1", "u2", "hi", "", t0)},
		[]models.ParticipantWithProfile{
			{Participant: models.Participant{ID: "p1", SessionID: "s1", UserID: "u1"}, Profile: &models.Profile{ID: "u1"}},
			{Participant: models.Participant{ID: "p2", SessionID: "s1", UserID: "u2"}},
		},
		[]models.Reaction{{ID: "r1", MessageID: "m1", UserID: "u2", Emoji: "👍"}},
	)

	require.Equal(t, StatusLive, f.ctrl.Status())
	require.Len(t, f.channel.tracked, 1)
	require.Equal(t, "u1", f.channel.tracked[0].UserID)
	require.Equal(t, "Ada", f.channel.tracked[0].Name)

	snap := f.ctrl.Snapshot()
	require.Equal(t, []string{"m1"}, ids(snap.Entries))
	require.Equal(t, "Bo", snap.Participants[1].Profile.DisplayName())
	require.Equal(t, 1, snap.Reactions["m1"][0].Count)

	receipts := f.channel.broadcastsSent(models.BroadcastRead)
	require.Equal(t, []any{models.ReadPayload{MessageID: "m1", UserID: "u1"}}, receipts)
	f.backend.AssertExpectations(t)
}

func TestOpenHistoryFailure(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.backend.On("ListMessages", mock.Anything, "s1").Return(nil, errors.New("db down"))
	f.backend.On("ListParticipants", mock.Anything, "s1").Return([]models.ParticipantWithProfile{}, nil).Maybe()

	require.Error(t, f.ctrl.Open(context.Background()))
	require.Equal(t, StatusDisconnected, f.ctrl.Status())
	require.Empty(t, f.channel.tracked)
}

func TestOpenSubscribeFailure(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.channel.subscribeErr = errors.New("refused")
	f.backend.On("ListMessages", mock.Anything, "s1").Return([]models.Message{}, nil)
	f.backend.On("ListParticipants", mock.Anything, "s1").Return([]models.ParticipantWithProfile{}, nil)
	f.backend.On("ListReactions", mock.Anything, "s1", mock.Anything).Return([]models.Reaction{}, nil)

	require.Error(t, f.ctrl.Open(context.Background()))
	require.Equal(t, StatusDisconnected, f.ctrl.Status())
}

func TestOpenReleasesChannelWhenTrackFails(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.channel.trackErr = errors.New("track refused")
	f.backend.On("ListMessages", mock.Anything, "s1").Return([]models.Message{}, nil)
	f.backend.On("ListParticipants", mock.Anything, "s1").Return([]models.ParticipantWithProfile{}, nil)
	f.backend.On("ListReactions", mock.Anything, "s1", mock.Anything).Return([]models.Reaction{}, nil)

	require.Error(t, f.ctrl.Open(context.Background()))
	require.Equal(t, StatusDisconnected, f.ctrl.Status())

	f.channel.mu.Lock()
	closed := f.channel.closed
	f.channel.mu.Unlock()
	require.True(t, closed)
}

func TestOpenRequiresIdentity(t *testing.T) {
	c := NewController(&backendMock{}, newFakeChannel(), Config{SessionID: "s1", Logger: zerolog.Nop()})
	require.ErrorIs(t, c.Open(context.Background()), ErrNotAuthenticated)
}

func TestMutationsRequireIdentityFirst(t *testing.T) {
	backend := &backendMock{}
	var notices []error
	c := NewController(backend, newFakeChannel(), Config{
		SessionID: "s1",
		Logger:    zerolog.Nop(),
		Notify:    func(err error) { notices = append(notices, err) },
	})

	_, err := c.SendMessage(context.Background(), "  ")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.ToggleReaction(context.Background(), "m1", "👍")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	require.Len(t, notices, 2)
	require.Empty(t, c.Snapshot().Entries)
	backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageEchoesThenConfirmsOnce(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	var echoed Snapshot
	var row models.Message
	f.backend.On("SendMessage", mock.Anything, "s1", "hello", mock.MatchedBy(IsTempID)).
		Run(func(mock.Arguments) { echoed = f.ctrl.Snapshot() }).
		Return(func(clientID string) models.Message {
			row = confirmed("m1", "u1", "hello", clientID, t0)
			return row
		}, nil).Once()

	msg, err := f.ctrl.SendMessage(context.Background(), "  hello ")
	require.NoError(t, err)
	require.Equal(t, "m1", msg.ID)

	require.Len(t, echoed.Entries, 1)
	require.True(t, echoed.Entries[0].Pending())
	require.Equal(t, "hello", echoed.Entries[0].Text())

	f.pushChange(t, models.TableMessages, models.OpInsert, row)
	f.pushChange(t, models.TableMessages, models.OpInsert, row)
	f.flush(t)

	entries := f.ctrl.Snapshot().Entries
	require.Equal(t, []string{"m1"}, ids(entries))
	require.False(t, entries[0].Pending())
	require.Empty(t, f.channel.broadcastsSent(models.BroadcastRead))
}

func TestSendMessageFeedBeforeResponse(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	f.backend.On("SendMessage", mock.Anything, "s1", "hello", mock.Anything).
		Run(func(args mock.Arguments) {
			f.pushChange(t, models.TableMessages, models.OpInsert, confirmed("m1", "u1", "hello", args.String(3), t0))
			f.flush(t)
		}).
		Return(func(clientID string) models.Message { return confirmed("m1", "u1", "hello", clientID, t0) }, nil).Once()

	_, err := f.ctrl.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids(f.ctrl.Snapshot().Entries))
}

func TestSendMessageRollsBackOnFailure(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{confirmed("m0", "u2", "earlier", "", t0)}, []models.ParticipantWithProfile{}, []models.Reaction{})

	storeErr := &APIError{Status: 403, Message: "permission denied"}
	f.backend.On("SendMessage", mock.Anything, "s1", "hello", mock.Anything).Return(models.Message{}, storeErr).Once()

	_, err := f.ctrl.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, storeErr)
	require.Equal(t, []string{"m0"}, ids(f.ctrl.Snapshot().Entries))
	require.Equal(t, 1, f.noticeCount())
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	_, err := f.ctrl.SendMessage(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, f.ctrl.Snapshot().Entries)
	f.backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendImageDefaultsContentAndValidates(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	_, err := f.ctrl.SendImage(context.Background(), "", ImageUpload{Filename: "a.pdf", ContentType: "application/pdf", Size: 10, Body: strings.NewReader("x")})
	require.Error(t, err)
	require.Empty(t, f.ctrl.Snapshot().Entries)

	img := ImageUpload{Filename: "cat.png", ContentType: "image/png", Size: 3, Body: strings.NewReader("png")}
	f.backend.On("SendImage", mock.Anything, "s1", defaultImageContent, mock.Anything, img).
		Return(func(clientID string) models.Message {
			return confirmed("m1", "u1", defaultImageContent, clientID, t0)
		}, nil).Once()

	msg, err := f.ctrl.SendImage(context.Background(), "", img)
	require.NoError(t, err)
	require.Equal(t, defaultImageContent, msg.Content)
	require.Equal(t, []string{"m1"}, ids(f.ctrl.Snapshot().Entries))
}

func TestTypingIndicatorExpires(t *testing.T) {
	f := newControllerFixture(t, 200*time.Millisecond)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	f.pushBroadcast(t, models.BroadcastTyping, models.TypingPayload{UserID: "u1", Name: "Ada"})
	f.pushBroadcast(t, models.BroadcastTyping, models.TypingPayload{UserID: "u2", Name: "Bo"})
	f.pushBroadcast(t, models.BroadcastTyping, models.TypingPayload{UserID: "u2", Name: "Bo"})
	f.flush(t)

	require.Equal(t, []TypingUser{{UserID: "u2", Name: "Bo"}}, f.ctrl.Snapshot().Typing)
	require.Eventually(t, func() bool {
		return len(f.ctrl.Snapshot().Typing) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestTypingBroadcastsOnlyNonEmptyDrafts(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	require.NoError(t, f.ctrl.Typing(context.Background(), "  "))
	require.NoError(t, f.ctrl.Typing(context.Background(), "h"))
	require.Equal(t, []any{models.TypingPayload{UserID: "u1", Name: "Ada"}}, f.channel.broadcastsSent(models.BroadcastTyping))
}

func TestReadReceiptsAccumulate(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	f.pushBroadcast(t, models.BroadcastRead, models.ReadPayload{MessageID: "m1", UserID: "u2"})
	f.pushBroadcast(t, models.BroadcastRead, models.ReadPayload{MessageID: "m1", UserID: "u2"})
	f.pushBroadcast(t, models.BroadcastRead, models.ReadPayload{MessageID: "m1", UserID: "u1"})
	f.flush(t)

	require.Equal(t, []string{"u2"}, f.ctrl.Snapshot().ReadBy["m1"])
}

func TestIncomingMessageSendsReadReceipt(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	f.pushChange(t, models.TableMessages, models.OpInsert, confirmed("m7", "u2", "yo", "", t0))
	f.flush(t)

	require.Equal(t, []any{models.ReadPayload{MessageID: "m7", UserID: "u1"}}, f.channel.broadcastsSent(models.BroadcastRead))
}

func TestToggleReactionAddsThenRemoves(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{confirmed("m1", "u2", "hi", "", t0)}, []models.ParticipantWithProfile{}, []models.Reaction{})

	reaction := models.Reaction{ID: "r1", MessageID: "m1", UserID: "u1", Emoji: "👍"}
	f.backend.On("AddReaction", mock.Anything, "s1", "m1", "👍").Return(reaction, nil).Once()
	f.backend.On("RemoveReaction", mock.Anything, "s1", "m1", "👍").Return(nil).Once()

	outcome, err := f.ctrl.ToggleReaction(context.Background(), "m1", "👍")
	require.NoError(t, err)
	require.Equal(t, ReactionAdded, outcome)
	require.Empty(t, f.ctrl.Snapshot().Reactions["m1"])

	f.pushChange(t, models.TableReactions, models.OpInsert, reaction)
	f.flush(t)
	require.Equal(t, 1, f.ctrl.Snapshot().Reactions["m1"][0].Count)

	outcome, err = f.ctrl.ToggleReaction(context.Background(), "m1", "👍")
	require.NoError(t, err)
	require.Equal(t, ReactionRemoved, outcome)

	f.pushChange(t, models.TableReactions, models.OpDelete, reaction)
	f.flush(t)
	require.Empty(t, f.ctrl.Snapshot().Reactions["m1"])
	f.backend.AssertExpectations(t)
}

func TestToggleReactionAlreadyReactedIsNotice(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})
	f.backend.On("AddReaction", mock.Anything, "s1", "m1", "👍").Return(models.Reaction{}, ErrAlreadyReacted).Once()

	outcome, err := f.ctrl.ToggleReaction(context.Background(), "m1", "👍")
	require.NoError(t, err)
	require.Equal(t, ReactionAlreadyPresent, outcome)
	require.Equal(t, 1, f.noticeCount())
	require.Empty(t, f.ctrl.Snapshot().Reactions)
}

func TestParticipantJoinResolvesProfile(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})
	name := "Cy"
	f.backend.On("GetProfile", mock.Anything, "u3").Return(models.Profile{ID: "u3", FullName: &name}, nil).Once()

	f.pushChange(t, models.TableParticipants, models.OpInsert, models.Participant{ID: "p3", SessionID: "s1", UserID: "u3"})
	require.Eventually(t, func() bool {
		parts := f.ctrl.Snapshot().Participants
		return len(parts) == 1 && parts[0].Profile != nil && parts[0].Profile.DisplayName() == "Cy"
	}, time.Second, 5*time.Millisecond)

	f.pushChange(t, models.TableParticipants, models.OpDelete, models.Participant{ID: "p3", SessionID: "s1", UserID: "u3"})
	f.flush(t)
	require.Empty(t, f.ctrl.Snapshot().Participants)
}

func TestPresenceReplacesOnlineSet(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	f.pushPresence(t, models.PresenceSync{State: map[string][]models.PresenceMeta{"u2": {{UserID: "u2"}}, "u3": {{UserID: "u3"}}}})
	f.pushPresence(t, models.PresenceSync{State: map[string][]models.PresenceMeta{"u2": {{UserID: "u2"}}}})
	f.flush(t)

	require.Equal(t, Online, f.ctrl.PresenceOf("u2"))
	require.Equal(t, RecentlyActive, f.ctrl.PresenceOf("u3"))
	require.Equal(t, Offline, f.ctrl.PresenceOf("u9"))
}

func TestChannelLossMarksDisconnected(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	f.channel.lose()
	require.Eventually(t, func() bool {
		return f.ctrl.Status() == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestCloseUntracksAndDiscardsLateEvents(t *testing.T) {
	f := newControllerFixture(t, 0)
	f.openWith(t, []models.Message{}, []models.ParticipantWithProfile{}, []models.Reaction{})

	require.NoError(t, f.ctrl.Close(context.Background()))
	require.NoError(t, f.ctrl.Close(context.Background()))
	require.Equal(t, StatusClosed, f.ctrl.Status())
	require.Equal(t, 1, f.channel.untracked)
	require.True(t, f.channel.closed)

	ev, err := models.NewChangeEvent(models.TableMessages, models.OpInsert, confirmed("m1", "u2", "late", "", t0))
	require.NoError(t, err)
	f.ctrl.handleChange(context.Background(), ev)
	require.Empty(t, f.ctrl.Snapshot().Entries)

	_, err = f.ctrl.SendMessage(context.Background(), "after close")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, f.ctrl.Typing(context.Background(), "x"), ErrClosed)
}
