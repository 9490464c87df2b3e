// Package main provides a CI-friendly WebSocket smoke test for the relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - connected greeting
//   - direct chat join on both sides
//   - send_message -> ack for the sender
//   - receive_message fanout to the peer
//   - mark_delivered / mark_read confirmations
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "relay/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Frame
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "smoke-a", "User id of the first client")
		userB   = flag.String("b", "smoke-b", "User id of the second client")
		tokenA  = flag.String("token-a", "", "Connect token for the first client (servers with RELAY_JWT_SECRET)")
		tokenB  = flag.String("token-b", "", "Connect token for the second client")
		text    = flag.String("text", "hello relay 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *userA, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *userB, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	convID := mustJoinDirect(root, a, b.userID, *timeout)
	if got := mustJoinDirect(root, b, a.userID, *timeout); got != convID {
		fatalf("direct conversation mismatch: A=%s B=%s", convID, got)
	}

	msgID := mustSendAndAssertAck(root, a, b.userID, *text, *timeout)
	mustAssertReceive(root, b, a.userID, msgID, convID, *text, *timeout)

	mustReceipt(root, b, v1.EventMarkDelivered, v1.EventDeliveryConfirmed, msgID, *timeout)
	mustReceipt(root, b, v1.EventMarkRead, v1.EventReadConfirmed, msgID, *timeout)

	fmt.Printf("OK: A=%s B=%s conversation_id=%s message_id=%s\n", a.userID, b.userID, convID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func connectURL(base, userID, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	} else {
		q.Set("user_id", userID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func mustConnect(parent context.Context, name, wsURL, origin, userID, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, connectURL(wsURL, userID, token), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	f := c.mustReadUntil(parent, v1.EventConnected, stepTimeout, nil)
	var p v1.ConnectedPayload
	mustUnmarshal(f, &p)
	if p.Status != v1.StatusConnected || strings.TrimSpace(p.UserID) == "" {
		fatalf("bad connected payload (%s): %+v", name, p)
	}
	c.userID = p.UserID
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var f v1.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if strings.TrimSpace(f.Event) == "" {
				c.fail(errors.New("frame without event"))
				return
			}

			select {
			case c.inbox <- f:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustJoinDirect(parent context.Context, c *smokeClient, other string, stepTimeout time.Duration) string {
	c.mustWrite(parent, v1.EventJoinDirectChat, v1.JoinDirectChat{OtherUserID: other}, stepTimeout)

	f := c.mustReadUntil(parent, v1.EventDirectChatJoined, stepTimeout, nil)
	var p v1.DirectChatJoinedPayload
	mustUnmarshal(f, &p)
	if p.Status != v1.StatusSuccess || p.OtherUserID != other || p.ConversationID == "" {
		fatalf("bad direct_chat_joined (%s): %+v", c.name, p)
	}
	return p.ConversationID
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, to, text string, stepTimeout time.Duration) string {
	ts, _ := json.Marshal(time.Now().UTC().Format(time.RFC3339Nano))
	c.mustWrite(parent, v1.EventSendMessage, v1.SendMessage{
		To:        to,
		Message:   text,
		SenderID:  c.userID,
		Timestamp: ts,
		Type:      "direct",
	}, stepTimeout)

	// The sender is subscribed to the room too and may see its own message first.
	skip := map[string]struct{}{v1.EventReceiveMessage: {}}
	f := c.mustReadUntil(parent, v1.EventAck, stepTimeout, skip)

	var p v1.AckPayload
	mustUnmarshal(f, &p)
	if p.Status != v1.StatusSent || p.MessageID == "" {
		fatalf("bad ack (%s): status=%q code=%q err=%q", c.name, p.Status, p.Code, p.Error)
	}
	if p.Message != text {
		fatalf("ack message mismatch: got=%q want=%q", p.Message, text)
	}
	return p.MessageID
}

func mustAssertReceive(parent context.Context, c *smokeClient, from, msgID, convID, text string, stepTimeout time.Duration) {
	f := c.mustReadUntil(parent, v1.EventReceiveMessage, stepTimeout, nil)

	var p v1.ReceiveMessagePayload
	mustUnmarshal(f, &p)
	if p.From != from || p.MessageID != msgID || p.ConversationID != convID || p.Message != text {
		fatalf("receive_message mismatch (%s): %+v", c.name, p)
	}
}

func mustReceipt(parent context.Context, c *smokeClient, event, wantEvent, msgID string, stepTimeout time.Duration) {
	var data any = v1.MarkRead{MessageID: msgID, UserID: c.userID}
	if event == v1.EventMarkDelivered {
		data = v1.MarkDelivered{MessageID: msgID, UserID: c.userID}
	}
	c.mustWrite(parent, event, data, stepTimeout)

	f := c.mustReadUntil(parent, wantEvent, stepTimeout, nil)
	var p v1.ReceiptConfirmedPayload
	mustUnmarshal(f, &p)
	if p.Status != v1.StatusSuccess || p.MessageID != msgID {
		fatalf("bad %s (%s): %+v", wantEvent, c.name, p)
	}
}

func (c *smokeClient) mustReadUntil(parent context.Context, want string, stepTimeout time.Duration, skip map[string]struct{}) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", want, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", want, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", want, c.name)
			}
			if f.Event == want {
				return f
			}
			if f.Event == v1.EventError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(f.Data, &ep)
				fatalf("server error (%s): code=%q msg=%q event=%q", c.name, ep.Code, ep.Message, ep.Event)
			}
			if _, ok := skip[f.Event]; ok {
				continue
			}
			fatalf("unexpected event (%s): got=%q want=%q", c.name, f.Event, want)
		}
	}
}

func (c *smokeClient) mustWrite(parent context.Context, event string, data any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	f, err := v1.NewFrame(event, data)
	if err != nil {
		fatalf("frame %s: %v", event, err)
	}
	b, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func mustUnmarshal(f v1.Frame, v any) {
	if err := json.Unmarshal(f.Data, v); err != nil {
		fatalf("unmarshal %s payload: %v", f.Event, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
