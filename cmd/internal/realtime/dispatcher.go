package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relay/cmd/internal/chat"
	"relay/cmd/internal/ids"
	v1 "relay/shared/contracts/relay/v1"
)

// PersistencePolicy decides whether fan-out proceeds when a message cannot be saved.
// One policy applies to every send in the process.
type PersistencePolicy string

const (
	// FailClosed drops the message and answers ack{status:error}.
	FailClosed PersistencePolicy = "fail_closed"
	// FailOpen relays the message anyway and answers ack{status:sent, saved_to_db:false}.
	FailOpen PersistencePolicy = "fail_open"
)

// ParsePersistencePolicy validates a policy name. Empty means FailClosed.
func ParsePersistencePolicy(s string) (PersistencePolicy, error) {
	switch p := PersistencePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailClosed, nil
	case FailClosed, FailOpen:
		return p, nil
	default:
		return "", fmt.Errorf("unknown persistence policy %q (want fail_closed or fail_open)", s)
	}
}

// Wire error codes.
const (
	codeBadEvent       = "bad_event"
	codeInvalidPayload = "invalid_payload"
	codeNotMember      = "not_a_member"
	codeNotJoined      = "not_joined"
	codeNotFound       = "not_found"
	codeUnavailable    = "persistence_unavailable"
	codeRateLimited    = "rate_limited"
	codeInternal       = "internal"
)

// ErrNotJoined is returned when a send targets a conversation channel the connection never joined.
var ErrNotJoined = errors.New("conversation not joined")

// Services are the durable collaborators of the dispatcher.
type Services struct {
	Directory *chat.Directory
	Authority *chat.Authority
	Messages  *chat.Messages
}

// Dispatcher is the protocol-facing entry point. It validates inbound events and
// orchestrates the directory, membership authority, message store, registry and router.
//
// Events from one connection are handled to completion in order by that
// connection's read loop; different connections call in concurrently.
// Nothing that goes wrong while handling an event closes the connection or
// escapes as a panic: failures become error/ack frames for the originating connection.
type Dispatcher struct {
	log      *slog.Logger
	reg      *Registry
	router   *Router
	svc      Services
	policy   PersistencePolicy
	metrics  *Metrics
	presence Presence
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPolicy sets the persistence policy (default FailClosed).
func WithPolicy(p PersistencePolicy) DispatcherOption {
	return func(d *Dispatcher) {
		if p != "" {
			d.policy = p
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPresence mirrors connect/disconnect transitions to p.
func WithPresence(p Presence) DispatcherOption {
	return func(d *Dispatcher) {
		if p != nil {
			d.presence = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher constructs a Dispatcher. reg must not be nil.
func NewDispatcher(log *slog.Logger, reg *Registry, svc Services, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:      log,
		reg:      reg,
		svc:      svc,
		policy:   FailClosed,
		presence: nopPresence{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.router = NewRouter(log, reg, d.metrics)
	return d
}

// Registry returns the connection registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Policy returns the configured persistence policy.
func (d *Dispatcher) Policy() PersistencePolicy { return d.policy }

// Connect registers an authenticated connection and emits `connected` to it.
func (d *Dispatcher) Connect(ctx context.Context, c *Client) {
	if replaced := d.reg.Register(c.UserID, c); replaced != nil {
		d.metrics.replaced()
	}
	d.metrics.connected()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
	if err := d.presence.Online(pctx, c.UserID, c.ConnID); err != nil {
		d.log.Warn("presence.online.fail", "user_id", c.UserID, "conn_id", c.ConnID, "err", err)
	}
	cancel()

	d.reply(c, v1.EventConnected, v1.ConnectedPayload{
		Status:       v1.StatusConnected,
		UserID:       c.UserID,
		ConnectionID: c.ConnID,
	})
	d.log.Info("dispatch.connect", "user_id", c.UserID, "conn_id", c.ConnID)
}

// Disconnect unregisters the connection. Unknown or already replaced connections are a no-op.
func (d *Dispatcher) Disconnect(ctx context.Context, c *Client) {
	userID, ok := d.reg.Unregister(c.ConnID)
	d.metrics.disconnected()

	if ok {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
		if err := d.presence.Offline(pctx, userID, c.ConnID); err != nil {
			d.log.Warn("presence.offline.fail", "user_id", userID, "conn_id", c.ConnID, "err", err)
		}
		cancel()
	}
	d.log.Info("dispatch.disconnect", "user_id", c.UserID, "conn_id", c.ConnID, "registered", ok)
}

// HandleFrame decodes one raw inbound frame and dispatches it.
func (d *Dispatcher) HandleFrame(ctx context.Context, c *Client, data []byte) {
	event, in, err := v1.Decode(data)
	if err != nil {
		code := codeInvalidPayload
		if errors.Is(err, v1.ErrMalformed) || errors.Is(err, v1.ErrUnknownEvent) {
			code = codeBadEvent
		}
		d.metrics.event(eventLabel(event), code)
		d.log.Info("dispatch.decode.fail", "conn_id", c.ConnID, "event", event, "err", err)

		if event == v1.EventSendMessage {
			d.reply(c, v1.EventAck, v1.AckPayload{Status: v1.StatusError, Code: code, Error: err.Error()})
			return
		}
		d.reply(c, v1.EventError, v1.ErrorPayload{Code: code, Message: err.Error(), Event: event})
		return
	}
	d.Handle(ctx, c, in)
}

// Handle dispatches one validated inbound event.
func (d *Dispatcher) Handle(ctx context.Context, c *Client, in v1.Inbound) {
	event := in.EventName()

	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("dispatch.panic", "event", event, "conn_id", c.ConnID, "panic", fmt.Sprint(rec))
			d.metrics.event(event, codeInternal)
			d.reply(c, v1.EventError, v1.ErrorPayload{Code: codeInternal, Message: "internal error", Event: event})
		}
	}()

	var err error
	switch p := in.(type) {
	case *v1.JoinDirectChat:
		err = d.joinDirect(ctx, c, p)
	case *v1.JoinGroup:
		err = d.joinGroup(ctx, c, p)
	case *v1.LeaveGroup:
		d.leaveGroup(ctx, c, p)
	case *v1.SendMessage:
		err = d.sendMessage(ctx, c, p)
		if err != nil {
			d.metrics.event(event, errorCode(err))
			d.log.Info("dispatch.send.fail", "conn_id", c.ConnID, "user_id", c.UserID, "err", err)
			d.reply(c, v1.EventAck, failedAck(p, err))
			return
		}
	case *v1.MarkDelivered:
		err = d.markReceipt(ctx, c, p.MessageID, p.UserID, false)
	case *v1.MarkRead:
		err = d.markReceipt(ctx, c, p.MessageID, p.UserID, true)
	default:
		err = fmt.Errorf("%w: %q", v1.ErrUnknownEvent, event)
	}

	if err != nil {
		code := errorCode(err)
		d.metrics.event(event, code)
		d.log.Info("dispatch.event.fail", "event", event, "conn_id", c.ConnID, "user_id", c.UserID, "code", code, "err", err)
		d.reply(c, v1.EventError, v1.ErrorPayload{Code: code, Message: publicMessage(code, err), Event: event})
		return
	}
	d.metrics.event(event, "ok")
}

func (d *Dispatcher) joinDirect(ctx context.Context, c *Client, p *v1.JoinDirectChat) error {
	conv, err := d.svc.Directory.Direct(ctx, c.UserID, p.OtherUserID)
	if err != nil {
		return err
	}

	room := ChannelFor(conv.Kind, conv.ID)
	d.reg.AddChannel(c.UserID, room)

	d.reply(c, v1.EventDirectChatJoined, v1.DirectChatJoinedPayload{
		Status:         v1.StatusSuccess,
		OtherUserID:    conv.Peer(c.UserID),
		ConversationID: conv.ID,
		Room:           room,
	})
	d.log.Info("dispatch.join_direct.ok", "user_id", c.UserID, "other_user_id", p.OtherUserID, "room", room)
	return nil
}

func (d *Dispatcher) joinGroup(ctx context.Context, c *Client, p *v1.JoinGroup) error {
	if err := d.svc.Authority.Require(ctx, c.UserID, p.GroupID); err != nil {
		return err
	}
	conv, err := d.svc.Directory.Group(ctx, p.GroupID)
	if err != nil {
		return err
	}

	room := ChannelFor(conv.Kind, conv.ID)
	d.reg.AddChannel(c.UserID, room)

	d.router.Publish(d.frame(v1.EventUserJoinedGroup, v1.UserJoinedGroupPayload{
		UserID:         c.UserID,
		GroupID:        p.GroupID,
		ConversationID: conv.ID,
	}), []string{room}, c.ConnID)

	d.reply(c, v1.EventGroupJoined, v1.GroupJoinedPayload{
		Status:         v1.StatusSuccess,
		GroupID:        p.GroupID,
		ConversationID: conv.ID,
		Room:           room,
	})

	active := -1
	if members, err := d.svc.Authority.ActiveMembers(ctx, p.GroupID); err == nil {
		active = len(members)
	}
	d.log.Info("dispatch.join_group.ok", "user_id", c.UserID, "group_id", p.GroupID, "room", room,
		"online", len(d.reg.Members(room)), "active_members", active)
	return nil
}

// leaveGroup always answers group_left, whether or not the user had joined
// and whether or not the conversation could be resolved.
func (d *Dispatcher) leaveGroup(ctx context.Context, c *Client, p *v1.LeaveGroup) {
	conv, err := d.svc.Directory.Group(ctx, p.GroupID)
	if err != nil {
		d.log.Warn("dispatch.leave_group.resolve.fail", "user_id", c.UserID, "group_id", p.GroupID, "err", err)
	} else {
		room := ChannelFor(conv.Kind, conv.ID)
		joined := d.reg.HasChannel(c.UserID, room)
		d.reg.RemoveChannel(c.UserID, room)

		if joined {
			d.router.Publish(d.frame(v1.EventUserLeftGroup, v1.UserLeftGroupPayload{
				UserID:  c.UserID,
				GroupID: p.GroupID,
			}), []string{room}, c.ConnID)
		}
		d.log.Info("dispatch.leave_group.ok", "user_id", c.UserID, "group_id", p.GroupID, "room", room, "was_joined", joined)
	}

	d.reply(c, v1.EventGroupLeft, v1.GroupLeftPayload{Status: v1.StatusSuccess, GroupID: p.GroupID})
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *Client, p *v1.SendMessage) error {
	const op = "realtime.Dispatcher.sendMessage"

	// Enumerations and sender identity are checked before any side effect.
	kind, err := chat.ParseKind(p.Type)
	if err != nil {
		return err
	}
	contentKind, err := chat.ParseContentKind(p.MessageType)
	if err != nil {
		return err
	}
	sender, err := chat.NormalizeUserID(p.SenderID)
	if err != nil {
		return err
	}
	if sender != c.UserID {
		return chat.OpError{Op: op, Kind: chat.ErrValidation, Msg: "sender_id does not match the connection user"}
	}

	conv, rooms, err := d.resolveTarget(ctx, c, kind, p)
	if err != nil {
		if !d.relaysUnresolved(kind, p, err) {
			return err
		}
		// The direct conversation cannot be resolved; reach both users on their personal channels.
		peer, _ := chat.NormalizeUserID(p.To)
		conv = chat.Conversation{Kind: chat.KindDirect}
		rooms = []string{PersonalChannel(peer), PersonalChannel(c.UserID)}
		d.log.Warn("dispatch.send.unresolved", "user_id", c.UserID, "to", peer, "policy", d.policy, "err", err)
	}

	var (
		msg   chat.Message
		saved bool
	)
	if conv.ID == "" {
		d.metrics.saved(false)
		msg, err = d.unsavedMessage(c, conv.ID, contentKind, p, messageMetadata(kind, p))
	} else {
		msg, saved, err = d.persist(ctx, c, conv, kind, contentKind, p)
	}
	if err != nil {
		return err
	}

	room := rooms[0]
	delivered := d.router.Publish(d.frame(v1.EventReceiveMessage, v1.ReceiveMessagePayload{
		From:           c.UserID,
		Message:        msg.Content,
		Type:           string(kind),
		MessageType:    string(msg.ContentKind),
		Timestamp:      p.Timestamp,
		URL:            msg.URL,
		MessageID:      msg.ID,
		CreatedAt:      msg.CreatedAt,
		ConversationID: conv.ID,
		Room:           room,
		SavedToDB:      saved,
	}), rooms, "")

	createdAt := msg.CreatedAt
	d.reply(c, v1.EventAck, v1.AckPayload{
		Status:         v1.StatusSent,
		SenderID:       c.UserID,
		Timestamp:      p.Timestamp,
		Type:           string(kind),
		MessageType:    string(msg.ContentKind),
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Message:        msg.Content,
		CreatedAt:      &createdAt,
		SavedToDB:      &saved,
	})

	d.log.Info("dispatch.send.ok", "user_id", c.UserID, "conversation_id", conv.ID, "message_id", msg.ID,
		"room", room, "delivered", delivered, "saved", saved)
	return nil
}

// relaysUnresolved reports whether a send whose target could not be resolved is
// still relayed. Only direct sends addressed by user id qualify under FailOpen:
// membership checks and conversation id lookups are never bypassed.
func (d *Dispatcher) relaysUnresolved(kind chat.Kind, p *v1.SendMessage, err error) bool {
	return d.policy == FailOpen &&
		kind == chat.KindDirect &&
		p.ConversationID == "" &&
		chat.IsUnavailable(err)
}

// resolveTarget returns the conversation of a send and the channels to fan out to.
// The conversation channel is always first.
func (d *Dispatcher) resolveTarget(ctx context.Context, c *Client, kind chat.Kind, p *v1.SendMessage) (chat.Conversation, []string, error) {
	const op = "realtime.Dispatcher.resolveTarget"

	if p.ConversationID != "" {
		conv, err := d.svc.Directory.Lookup(ctx, p.ConversationID)
		if err != nil {
			return chat.Conversation{}, nil, err
		}
		if conv.Kind != kind {
			return chat.Conversation{}, nil, chat.OpError{Op: op, Kind: chat.ErrValidation, Msg: "type does not match the conversation"}
		}
		room := ChannelFor(conv.Kind, conv.ID)
		if !d.reg.HasChannel(c.UserID, room) {
			return chat.Conversation{}, nil, fmt.Errorf("%s: %w: %s", op, ErrNotJoined, conv.ID)
		}
		if conv.Kind == chat.KindGroup {
			if err := d.svc.Authority.Require(ctx, c.UserID, conv.GroupID); err != nil {
				return chat.Conversation{}, nil, err
			}
		}
		return conv, []string{room}, nil
	}

	switch kind {
	case chat.KindGroup:
		if err := d.svc.Authority.Require(ctx, c.UserID, p.To); err != nil {
			return chat.Conversation{}, nil, err
		}
		conv, err := d.svc.Directory.Group(ctx, p.To)
		if err != nil {
			return chat.Conversation{}, nil, err
		}
		room := ChannelFor(conv.Kind, conv.ID)
		d.reg.AddChannel(c.UserID, room)
		return conv, []string{room}, nil

	default:
		conv, err := d.svc.Directory.Direct(ctx, c.UserID, p.To)
		if err != nil {
			return chat.Conversation{}, nil, err
		}
		room := ChannelFor(conv.Kind, conv.ID)
		d.reg.AddChannel(c.UserID, room)
		// The recipient may not have joined the room yet; reach them on their personal channel.
		return conv, []string{room, PersonalChannel(conv.Peer(c.UserID))}, nil
	}
}

func messageMetadata(kind chat.Kind, p *v1.SendMessage) map[string]any {
	meta := make(map[string]any, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	var clientTS any
	if err := json.Unmarshal(p.Timestamp, &clientTS); err == nil {
		meta["client_timestamp"] = clientTS
	}
	meta["type"] = string(kind)
	return meta
}

func (d *Dispatcher) persist(ctx context.Context, c *Client, conv chat.Conversation, kind chat.Kind, contentKind chat.ContentKind, p *v1.SendMessage) (chat.Message, bool, error) {
	meta := messageMetadata(kind, p)

	msg, err := d.svc.Messages.Save(ctx, chat.SaveInput{
		ConversationID: conv.ID,
		SenderID:       c.UserID,
		ContentKind:    contentKind,
		Content:        p.Message,
		URL:            p.URL,
		Metadata:       meta,
	})
	if err == nil {
		d.metrics.saved(true)
		return msg, true, nil
	}
	d.metrics.saved(false)

	if chat.IsValidation(err) || d.policy != FailOpen {
		d.log.Warn("dispatch.send.save.fail", "conversation_id", conv.ID, "user_id", c.UserID, "policy", d.policy, "err", err)
		return chat.Message{}, false, err
	}

	msg, idErr := d.unsavedMessage(c, conv.ID, contentKind, p, meta)
	if idErr != nil {
		return chat.Message{}, false, err
	}
	d.log.Warn("dispatch.send.unsaved", "conversation_id", conv.ID, "user_id", c.UserID, "message_id", msg.ID, "err", err)
	return msg, false, nil
}

// unsavedMessage builds the relayed form of a message that was not persisted.
func (d *Dispatcher) unsavedMessage(c *Client, conversationID string, contentKind chat.ContentKind, p *v1.SendMessage, meta map[string]any) (chat.Message, error) {
	now := d.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       c.UserID,
		ContentKind:    contentKind,
		Content:        p.Message,
		URL:            p.URL,
		Metadata:       meta,
		CreatedAt:      now,
	}, nil
}

func (d *Dispatcher) markReceipt(ctx context.Context, c *Client, messageID, userID string, read bool) error {
	const op = "realtime.Dispatcher.markReceipt"

	userID, err := chat.NormalizeUserID(userID)
	if err != nil {
		return err
	}
	if userID != c.UserID {
		return chat.OpError{Op: op, Kind: chat.ErrValidation, Msg: "user_id does not match the connection user"}
	}

	mark, event := d.svc.Messages.MarkDelivered, v1.EventDeliveryConfirmed
	if read {
		mark, event = d.svc.Messages.MarkRead, v1.EventReadConfirmed
	}

	ok, err := mark(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return chat.OpError{Op: op, Kind: chat.ErrNotFound, Msg: "message " + messageID}
	}

	d.reply(c, event, v1.ReceiptConfirmedPayload{Status: v1.StatusSuccess, MessageID: messageID, MensajeID: messageID, UserID: userID})
	return nil
}

// ---- send helpers ----

func (d *Dispatcher) frame(event string, payload any) v1.Frame {
	f, err := v1.NewFrame(event, payload)
	if err != nil {
		d.log.Error("dispatch.frame.fail", "event", event, "err", err)
		return v1.Frame{Event: event}
	}
	return f
}

func (d *Dispatcher) reply(c *Client, event string, payload any) {
	d.router.ToClient(c, d.frame(event, payload))
}

func failedAck(p *v1.SendMessage, err error) v1.AckPayload {
	code := errorCode(err)
	return v1.AckPayload{
		Status:         v1.StatusError,
		Code:           code,
		Error:          publicMessage(code, err),
		SenderID:       p.SenderID,
		Timestamp:      p.Timestamp,
		Type:           p.Type,
		MessageType:    p.MessageType,
		ConversationID: p.ConversationID,
		Message:        p.Message,
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotJoined):
		return codeNotJoined
	case chat.IsNotMember(err):
		return codeNotMember
	case chat.IsNotFound(err):
		return codeNotFound
	case chat.IsUnavailable(err):
		return codeUnavailable
	case chat.IsValidation(err), errors.Is(err, v1.ErrInvalidPayload):
		return codeInvalidPayload
	case errors.Is(err, v1.ErrUnknownEvent), errors.Is(err, v1.ErrMalformed):
		return codeBadEvent
	default:
		return codeInternal
	}
}

// publicMessage hides store internals from clients.
func publicMessage(code string, err error) string {
	switch code {
	case codeUnavailable:
		return "storage unavailable, try again"
	case codeNotMember:
		return "not a member of this group"
	case codeInternal:
		return "internal error"
	default:
		var op chat.OpError
		if errors.As(err, &op) && op.Msg != "" {
			return op.Msg
		}
		return err.Error()
	}
}

func eventLabel(event string) string {
	switch event {
	case v1.EventJoinDirectChat, v1.EventJoinGroup, v1.EventLeaveGroup,
		v1.EventSendMessage, v1.EventMarkDelivered, v1.EventMarkRead:
		return event
	default:
		return "unknown"
	}
}
