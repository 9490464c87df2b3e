package v1

import (
	"errors"
	"strings"
	"testing"
)

func TestDecode_TypedPayloads(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		event string
	}{
		{name: "join direct", in: `{"event":"join_direct_chat","data":{"other_user_id":" 2 "}}`, event: EventJoinDirectChat},
		{name: "join group", in: `{"event":"join_group","data":{"group_id":"77"}}`, event: EventJoinGroup},
		{name: "leave group", in: `{"event":"leave_group","data":{"group_id":"77"}}`, event: EventLeaveGroup},
		{name: "send by to", in: `{"event":"send_message","data":{"to":"2","message":"hi","sender_id":"1","timestamp":1700000000,"type":"direct"}}`, event: EventSendMessage},
		{name: "send by conversation", in: `{"event":"send_message","data":{"conversation_id":"c1","message":"hi","sender_id":"1","timestamp":"2024-01-01T00:00:00Z","type":"group","message_type":"image","url":"https://x/y.png"}}`, event: EventSendMessage},
		{name: "mark delivered", in: `{"event":"mark_delivered","data":{"message_id":"m1","user_id":"2"}}`, event: EventMarkDelivered},
		{name: "mark read", in: `{"event":"mark_read","data":{"message_id":"m1","user_id":"2"}}`, event: EventMarkRead},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			event, in, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if event != tc.event || in.EventName() != tc.event {
				t.Fatalf("event=%q payload=%q want %q", event, in.EventName(), tc.event)
			}
		})
	}
}

func TestDecode_TrimsIdentifiers(t *testing.T) {
	t.Parallel()

	_, in, err := Decode([]byte(`{"event":"join_direct_chat","data":{"other_user_id":"  42 "}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := in.(*JoinDirectChat)
	if !ok {
		t.Fatalf("unexpected payload type %T", in)
	}
	if p.OtherUserID != "42" {
		t.Fatalf("other_user_id=%q want 42", p.OtherUserID)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", MaxMessageChars+1)

	cases := []struct {
		name string
		in   string
		want error
	}{
		{name: "bad json", in: `{"event":`, want: ErrMalformed},
		{name: "no event", in: `{"data":{}}`, want: ErrMalformed},
		{name: "unknown event", in: `{"event":"typing","data":{}}`, want: ErrUnknownEvent},
		{name: "missing data", in: `{"event":"join_group"}`, want: ErrInvalidPayload},
		{name: "null data", in: `{"event":"join_group","data":null}`, want: ErrInvalidPayload},
		{name: "wrong shape", in: `{"event":"join_group","data":{"group_id":{"id":5}}}`, want: ErrInvalidPayload},
		{name: "bool id", in: `{"event":"join_direct_chat","data":{"other_user_id":true}}`, want: ErrInvalidPayload},
		{name: "blank group", in: `{"event":"join_group","data":{"group_id":"  "}}`, want: ErrInvalidPayload},
		{name: "no target", in: `{"event":"send_message","data":{"message":"hi","sender_id":"1","timestamp":1,"type":"direct"}}`, want: ErrInvalidPayload},
		{name: "both targets", in: `{"event":"send_message","data":{"to":"2","conversation_id":"c","message":"hi","sender_id":"1","timestamp":1,"type":"direct"}}`, want: ErrInvalidPayload},
		{name: "empty message", in: `{"event":"send_message","data":{"to":"2","message":"  ","sender_id":"1","timestamp":1,"type":"direct"}}`, want: ErrInvalidPayload},
		{name: "missing timestamp", in: `{"event":"send_message","data":{"to":"2","message":"hi","sender_id":"1","type":"direct"}}`, want: ErrInvalidPayload},
		{name: "missing type", in: `{"event":"send_message","data":{"to":"2","message":"hi","sender_id":"1","timestamp":1}}`, want: ErrInvalidPayload},
		{name: "too long", in: `{"event":"send_message","data":{"to":"2","message":"` + long + `","sender_id":"1","timestamp":1,"type":"direct"}}`, want: ErrInvalidPayload},
		{name: "receipt missing user", in: `{"event":"mark_read","data":{"message_id":"m1"}}`, want: ErrInvalidPayload},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Decode([]byte(tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestDecode_ReportsEventForPayloadErrors(t *testing.T) {
	t.Parallel()

	event, _, err := Decode([]byte(`{"event":"mark_read","data":{}}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	if event != EventMarkRead {
		t.Fatalf("event=%q want %q", event, EventMarkRead)
	}
}

func TestNewFrame(t *testing.T) {
	t.Parallel()

	f, err := NewFrame(EventGroupLeft, GroupLeftPayload{Status: StatusSuccess, GroupID: "77"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if f.Event != EventGroupLeft {
		t.Fatalf("event=%q", f.Event)
	}
	if string(f.Data) != `{"status":"success","group_id":"77"}` {
		t.Fatalf("data=%s", f.Data)
	}

	if _, err := NewFrame(" ", nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecode_NumericIdentifiers(t *testing.T) {
	t.Parallel()

	_, in, err := Decode([]byte(`{"event":"join_direct_chat","data":{"other_user_id":2}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := in.(*JoinDirectChat); p.OtherUserID != "2" {
		t.Fatalf("other_user_id=%q want 2", p.OtherUserID)
	}

	_, in, err = Decode([]byte(`{"event":"join_group","data":{"group_id":77}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := in.(*JoinGroup); p.GroupID != "77" {
		t.Fatalf("group_id=%q want 77", p.GroupID)
	}

	_, in, err = Decode([]byte(`{"event":"send_message","data":{"to":2,"message":"hi","sender_id":1,"timestamp":1,"type":"direct"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := in.(*SendMessage); p.To != "2" || p.SenderID != "1" {
		t.Fatalf("to=%q sender_id=%q", p.To, p.SenderID)
	}

	_, in, err = Decode([]byte(`{"event":"mark_read","data":{"message_id":10,"user_id":2}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := in.(*MarkRead); p.MessageID != "10" || p.UserID != "2" {
		t.Fatalf("message_id=%q user_id=%q", p.MessageID, p.UserID)
	}
}

func TestDecode_FieldAliases(t *testing.T) {
	t.Parallel()

	for _, event := range []string{EventMarkDelivered, EventMarkRead} {
		_, in, err := Decode([]byte(`{"event":"` + event + `","data":{"mensaje_id":"abc","user_id":"1"}}`))
		if err != nil {
			t.Fatalf("%s with mensaje_id: %v", event, err)
		}
		var got string
		switch p := in.(type) {
		case *MarkDelivered:
			got = p.MessageID
		case *MarkRead:
			got = p.MessageID
		}
		if got != "abc" {
			t.Fatalf("%s: message id=%q want abc", event, got)
		}
	}

	_, in, err := Decode([]byte(`{"event":"mark_read","data":{"message_id":"m1","mensaje_id":"m2","user_id":"1"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := in.(*MarkRead); p.MessageID != "m1" {
		t.Fatalf("canonical name must win, got %q", p.MessageID)
	}

	for _, key := range []string{"sala_uuid", "sala"} {
		_, in, err := Decode([]byte(`{"event":"send_message","data":{"` + key + `":"c1","message":"hi","sender_id":"1","timestamp":1,"type":"group","url_archivo":"https://x/y.png"}}`))
		if err != nil {
			t.Fatalf("send with %s: %v", key, err)
		}
		p := in.(*SendMessage)
		if p.ConversationID != "c1" || p.To != "" {
			t.Fatalf("%s: conversation_id=%q to=%q", key, p.ConversationID, p.To)
		}
		if p.URL != "https://x/y.png" || p.Message != "hi" || string(p.Timestamp) != "1" {
			t.Fatalf("%s: unexpected payload %+v", key, p)
		}
	}

	_, _, err = Decode([]byte(`{"event":"send_message","data":{"sala_uuid":"c1","to":"2","message":"hi","sender_id":"1","timestamp":1,"type":"direct"}}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("sala_uuid and to together must be rejected, got %v", err)
	}
}

func TestReceiptConfirmedPayload_EchoesBothNames(t *testing.T) {
	t.Parallel()

	f, err := NewFrame(EventReadConfirmed, ReceiptConfirmedPayload{Status: StatusSuccess, MessageID: "m1", MensajeID: "m1", UserID: "2"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if string(f.Data) != `{"status":"success","message_id":"m1","mensaje_id":"m1","user_id":"2"}` {
		t.Fatalf("data=%s", f.Data)
	}
}
