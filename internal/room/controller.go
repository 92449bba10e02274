package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"collab-service/internal/models"
	"collab-service/internal/storage"
)

const defaultImageContent = "📷 Image"

// Status is the connection state shown to the user.
type Status int

const (
	StatusConnecting Status = iota
	StatusLive
	StatusDisconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "closed"
	}
}

// ReactionOutcome is the result of a reaction toggle.
type ReactionOutcome int

const (
	ReactionAdded ReactionOutcome = iota
	ReactionRemoved
	ReactionAlreadyPresent
)

// Config configures a Controller.
type Config struct {
	SessionID string
	SelfID    string
	SelfName  string
	Logger    zerolog.Logger
	TypingTTL time.Duration
	Now       func() time.Time
	// Notify receives failures of the acting user's own operations.
	Notify func(error)
	// OnUpdate is called after every state change.
	OnUpdate func()
}

// Controller owns the client-side state of one open room.
type Controller struct {
	cfg     Config
	backend Backend
	channel Channel
	logger  zerolog.Logger

	mu     sync.Mutex
	state  *State
	status Status
	closed bool
	timers map[string]*time.Timer
	cancel context.CancelFunc

	profiles singleflight.Group
}

// NewController creates a controller for cfg.SessionID.
func NewController(backend Backend, channel Channel, cfg Config) *Controller {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:     cfg,
		backend: backend,
		channel: channel,
		logger:  cfg.Logger.With().Str("session_id", cfg.SessionID).Str("user_id", cfg.SelfID).Logger(),
		state:   NewState(cfg.SelfID),
		status:  StatusConnecting,
		timers:  make(map[string]*time.Timer),
	}
}

// Open loads history and roster, subscribes to the room and announces presence.
func (c *Controller) Open(ctx context.Context) error {
	if c.cfg.SelfID == "" {
		return ErrNotAuthenticated
	}

	var (
		msgs  []models.Message
		parts []models.ParticipantWithProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		msgs, err = c.backend.ListMessages(gctx, c.cfg.SessionID)
		return err
	})
	g.Go(func() error {
		var err error
		parts, err = c.backend.ListParticipants(gctx, c.cfg.SessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	for i := range parts {
		if parts[i].Profile != nil {
			continue
		}
		profile, err := c.lookupProfile(ctx, parts[i].UserID)
		if err != nil {
			c.logger.Debug().Err(err).Str("participant", parts[i].UserID).Msg("profile lookup failed")
			continue
		}
		parts[i].Profile = &profile
	}

	messageIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		messageIDs = append(messageIDs, m.ID)
	}
	reactions, err := c.backend.ListReactions(ctx, c.cfg.SessionID, messageIDs)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.LoadHistory(msgs)
	c.state.LoadParticipants(parts)
	c.state.LoadReactions(reactions)
	c.mu.Unlock()
	c.logger.Debug().Int("messages", len(msgs)).Int("participants", len(parts)).Msg("room history loaded")
	c.update()

	streams, err := c.channel.Subscribe(ctx, c.cfg.SessionID)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.pump(pumpCtx, streams)

	meta := models.PresenceMeta{UserID: c.cfg.SelfID, Name: c.cfg.SelfName, OnlineAt: c.cfg.Now().UTC()}
	if err := c.channel.Track(ctx, meta); err != nil {
		cancel()
		if closeErr := c.channel.Close(); closeErr != nil {
			c.logger.Debug().Err(closeErr).Msg("channel close after failed track")
		}
		c.setStatus(StatusDisconnected)
		return err
	}
	c.setStatus(StatusLive)
	c.logger.Debug().Msg("room live")

	c.sendReadReceipt(pumpCtx)
	return nil
}

func (c *Controller) pump(ctx context.Context, streams Streams) {
	changes, broadcasts, presence := streams.Changes, streams.Broadcasts, streams.Presence
	for {
		select {
		case <-ctx.Done():
			return
		case <-streams.Done:
			c.mu.Lock()
			if !c.closed {
				c.status = StatusDisconnected
			}
			c.mu.Unlock()
			c.logger.Debug().Msg("room channel lost")
			c.update()
			return
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.handleChange(ctx, ev)
		case ev, ok := <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
			c.handleBroadcast(ev)
		case ps, ok := <-presence:
			if !ok {
				presence = nil
				continue
			}
			c.handlePresence(ps)
		}
	}
}

func (c *Controller) handleChange(ctx context.Context, ev models.ChangeEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	effect, err := c.state.ApplyChange(ev)
	c.mu.Unlock()
	if err != nil {
		c.logger.Debug().Err(err).Str("table", ev.Table).Msg("dropping change event")
		return
	}
	c.logger.Debug().Str("table", ev.Table).Str("op", ev.Op).Int("merge", int(effect.Merge)).Msg("change applied")

	if effect.ProfileNeeded != "" {
		go c.resolveProfile(ctx, effect.ProfileNeeded)
	}
	c.update()
	if ev.Table == models.TableMessages {
		c.sendReadReceipt(ctx)
	}
}

// lookupProfile collapses concurrent lookups of the same user into one request.
func (c *Controller) lookupProfile(ctx context.Context, userID string) (models.Profile, error) {
	v, err, _ := c.profiles.Do(userID, func() (any, error) {
		return c.backend.GetProfile(ctx, userID)
	})
	if err != nil {
		return models.Profile{}, err
	}
	return v.(models.Profile), nil
}

func (c *Controller) resolveProfile(ctx context.Context, userID string) {
	c.mu.Lock()
	known := c.state.HasProfile(userID)
	c.mu.Unlock()
	if known {
		return
	}
	profile, err := c.lookupProfile(ctx, userID)
	if err != nil {
		c.logger.Debug().Err(err).Str("participant", userID).Msg("profile lookup failed")
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.SetProfile(profile)
	c.mu.Unlock()
	c.update()
}

func (c *Controller) handleBroadcast(ev models.BroadcastEvent) {
	switch ev.Event {
	case models.BroadcastTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		c.mu.Lock()
		if c.closed || !c.state.ApplyTyping(p) {
			c.mu.Unlock()
			return
		}
		c.scheduleTypingExpiry(p.UserID)
		c.mu.Unlock()
	case models.BroadcastRead:
		var p models.ReadPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		c.mu.Lock()
		applied := !c.closed && c.state.ApplyRead(p)
		c.mu.Unlock()
		if !applied {
			return
		}
	default:
		return
	}
	c.update()
}

// scheduleTypingExpiry must be called with c.mu held.
func (c *Controller) scheduleTypingExpiry(userID string) {
	if old, ok := c.timers[userID]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(c.cfg.TypingTTL, func() {
		c.mu.Lock()
		if c.closed || c.timers[userID] != t {
			c.mu.Unlock()
			return
		}
		delete(c.timers, userID)
		c.state.ClearTyping(userID)
		c.mu.Unlock()
		c.update()
	})
	c.timers[userID] = t
}

func (c *Controller) handlePresence(ps models.PresenceSync) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.ApplyPresence(ps, c.cfg.Now())
	c.mu.Unlock()
	c.update()
}

func (c *Controller) sendReadReceipt(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	id, ok := c.state.NextReadReceipt()
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.channel.Broadcast(ctx, models.BroadcastRead, models.ReadPayload{MessageID: id, UserID: c.cfg.SelfID}); err != nil {
		c.logger.Debug().Err(err).Str("message_id", id).Msg("read receipt not sent")
	}
}

// SendMessage echoes text locally, stores it and reconciles the stored row.
// The local echo is removed again if the store rejects the message.
func (c *Controller) SendMessage(ctx context.Context, text string) (models.Message, error) {
	if err := c.requireIdentity(); err != nil {
		return models.Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.notify(ErrEmptyMessage)
		return models.Message{}, ErrEmptyMessage
	}
	return c.send(ctx, text, func(tempID string) (models.Message, error) {
		return c.backend.SendMessage(ctx, c.cfg.SessionID, text, tempID)
	})
}

// SendImage uploads an image message. Text is optional.
func (c *Controller) SendImage(ctx context.Context, text string, img ImageUpload) (models.Message, error) {
	if err := c.requireIdentity(); err != nil {
		return models.Message{}, err
	}
	if err := storage.ValidateImage(img.Size, img.ContentType); err != nil {
		c.notify(err)
		return models.Message{}, err
	}
	content := strings.TrimSpace(text)
	if content == "" {
		content = defaultImageContent
	}
	return c.send(ctx, content, func(tempID string) (models.Message, error) {
		return c.backend.SendImage(ctx, c.cfg.SessionID, content, tempID, img)
	})
}

func (c *Controller) send(ctx context.Context, content string, store func(tempID string) (models.Message, error)) (models.Message, error) {
	pending := PendingMessage{
		TempID:    newTempID(),
		SessionID: c.cfg.SessionID,
		UserID:    c.cfg.SelfID,
		Content:   content,
		CreatedAt: c.cfg.Now(),
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	c.state.AddPending(pending)
	c.mu.Unlock()
	c.update()

	msg, err := store(pending.TempID)
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			c.state.RemovePending(pending.TempID)
		}
		c.mu.Unlock()
		c.logger.Debug().Err(err).Str("temp_id", pending.TempID).Msg("send failed, local echo removed")
		c.update()
		c.notify(err)
		return models.Message{}, err
	}

	c.mu.Lock()
	if !c.closed {
		outcome := c.state.ApplyConfirmed(msg)
		c.logger.Debug().Str("message_id", msg.ID).Int("merge", int(outcome)).Msg("send confirmed")
	}
	c.mu.Unlock()
	c.update()
	return msg, nil
}

// Typing broadcasts a typing signal for a non-empty draft.
func (c *Controller) Typing(ctx context.Context, draft string) error {
	if strings.TrimSpace(draft) == "" {
		return nil
	}
	if c.isClosed() {
		return ErrClosed
	}
	return c.channel.Broadcast(ctx, models.BroadcastTyping, models.TypingPayload{UserID: c.cfg.SelfID, Name: c.cfg.SelfName})
}

// ToggleReaction removes the caller's emoji reaction if present, else adds it.
// Counts change only when the change feed reports the stored row.
func (c *Controller) ToggleReaction(ctx context.Context, messageID, emoji string) (ReactionOutcome, error) {
	if err := c.requireIdentity(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	has := c.state.HasReaction(messageID, c.cfg.SelfID, emoji)
	c.mu.Unlock()

	if has {
		if err := c.backend.RemoveReaction(ctx, c.cfg.SessionID, messageID, emoji); err != nil {
			c.notify(err)
			return 0, err
		}
		return ReactionRemoved, nil
	}

	if _, err := c.backend.AddReaction(ctx, c.cfg.SessionID, messageID, emoji); err != nil {
		c.notify(err)
		if errors.Is(err, ErrAlreadyReacted) {
			return ReactionAlreadyPresent, nil
		}
		return 0, err
	}
	return ReactionAdded, nil
}

// Snapshot returns a copy of the room state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Status reports the connection state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// PresenceOf classifies userID now.
func (c *Controller) PresenceOf(userID string) Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.PresenceOf(userID, c.cfg.Now())
}

// Close withdraws presence and ends the subscription. Events arriving
// afterwards are discarded.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = StatusClosed
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	cancel := c.cancel
	c.mu.Unlock()

	untrackErr := c.channel.Untrack(ctx)
	if untrackErr != nil && !errors.Is(untrackErr, ErrNotSubscribed) {
		c.logger.Debug().Err(untrackErr).Msg("untrack failed")
	}
	if cancel != nil {
		cancel()
	}
	closeErr := c.channel.Close()
	c.logger.Debug().Msg("room closed")
	return closeErr
}

// requireIdentity rejects mutations when no user is signed in.
func (c *Controller) requireIdentity() error {
	if c.cfg.SelfID == "" {
		c.notify(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}
	return nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	if !c.closed {
		c.status = s
	}
	c.mu.Unlock()
	c.update()
}

func (c *Controller) notify(err error) {
	if c.cfg.Notify != nil {
		c.cfg.Notify(err)
	}
}

func (c *Controller) update() {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate()
	}
}
