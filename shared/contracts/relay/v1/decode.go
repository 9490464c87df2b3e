package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// flexID decodes an identifier sent either as a JSON string or as a JSON number.
// Numbers keep their literal text, so 42 and "42" decode to the same value.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or a number: %s", b)
	}
	*f = flexID(n.String())
	return nil
}

func firstID(vals ...flexID) string {
	for _, v := range vals {
		if s := string(v); s != "" {
			return s
		}
	}
	return ""
}

func (p *JoinDirectChat) UnmarshalJSON(b []byte) error {
	var aux struct {
		OtherUserID flexID `json:"other_user_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.OtherUserID = string(aux.OtherUserID)
	return nil
}

func (p *JoinGroup) UnmarshalJSON(b []byte) error {
	var aux struct {
		GroupID flexID `json:"group_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.GroupID = string(aux.GroupID)
	return nil
}

func (p *LeaveGroup) UnmarshalJSON(b []byte) error {
	var aux struct {
		GroupID flexID `json:"group_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.GroupID = string(aux.GroupID)
	return nil
}

// UnmarshalJSON also accepts sala_uuid and sala for conversation_id and
// url_archivo for url. The canonical name wins when both are present.
func (p *SendMessage) UnmarshalJSON(b []byte) error {
	type plain SendMessage
	var aux struct {
		plain
		ConversationID flexID `json:"conversation_id"`
		SalaUUID       flexID `json:"sala_uuid"`
		Sala           flexID `json:"sala"`
		To             flexID `json:"to"`
		SenderID       flexID `json:"sender_id"`
		URLArchivo     string `json:"url_archivo"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = SendMessage(aux.plain)
	p.ConversationID = firstID(aux.ConversationID, aux.SalaUUID, aux.Sala)
	p.To = string(aux.To)
	p.SenderID = string(aux.SenderID)
	if p.URL == "" {
		p.URL = aux.URLArchivo
	}
	return nil
}

// receiptWire is the shared wire shape of mark_delivered and mark_read.
// mensaje_id is accepted for message_id.
type receiptWire struct {
	MessageID flexID `json:"message_id"`
	MensajeID flexID `json:"mensaje_id"`
	UserID    flexID `json:"user_id"`
}

func decodeReceipt(b []byte) (messageID, userID string, err error) {
	var w receiptWire
	if err := json.Unmarshal(b, &w); err != nil {
		return "", "", err
	}
	return firstID(w.MessageID, w.MensajeID), string(w.UserID), nil
}

func (p *MarkDelivered) UnmarshalJSON(b []byte) error {
	var err error
	p.MessageID, p.UserID, err = decodeReceipt(b)
	return err
}

func (p *MarkRead) UnmarshalJSON(b []byte) error {
	var err error
	p.MessageID, p.UserID, err = decodeReceipt(b)
	return err
}
