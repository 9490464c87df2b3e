package chat

import (
	"strconv"
	"strings"
)

// Kind is the conversation kind.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// ParseKind validates a chat kind received from a client.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDirect, KindGroup:
		return k, nil
	default:
		return "", invalid("chat.ParseKind", "type must be direct or group, got %q", s)
	}
}

// ContentKind is the fixed enumeration of message content kinds.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentImage  ContentKind = "image"
	ContentFile   ContentKind = "file"
	ContentAudio  ContentKind = "audio"
	ContentSystem ContentKind = "system"
)

// ParseContentKind validates a content kind. An empty value defaults to text.
func ParseContentKind(s string) (ContentKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ContentText, nil
	}
	switch k := ContentKind(s); k {
	case ContentText, ContentImage, ContentFile, ContentAudio, ContentSystem:
		return k, nil
	default:
		return "", invalid("chat.ParseContentKind", "message_type must be one of text, image, file, audio, system; got %q", s)
	}
}

// Valid reports whether k is a member of the enumeration.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentImage, ContentFile, ContentAudio, ContentSystem:
		return true
	}
	return false
}

// MemberStatus is the status of a group membership record.
// Only MemberActive grants access.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
	MemberBanned   MemberStatus = "banned"
)

// MaxUserIDChars bounds user and group identifiers.
const MaxUserIDChars = 100

// NormalizeUserID trims s and checks it is 1..100 characters.
// Integer ids are canonicalized so that "007" and "7" name the same user.
func NormalizeUserID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalid("chat.NormalizeUserID", "user id is required")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		s = strconv.FormatInt(n, 10)
	}
	if len([]rune(s)) > MaxUserIDChars {
		return "", invalid("chat.NormalizeUserID", "user id too long: max=%d chars", MaxUserIDChars)
	}
	return s, nil
}

// NormalizePair orders a user pair so that (a, b) and (b, a) map to the same key.
// Numeric ids compare as integers; anything else compares lexicographically.
func NormalizePair(a, b string) (low, high string, err error) {
	a, err = NormalizeUserID(a)
	if err != nil {
		return "", "", err
	}
	b, err = NormalizeUserID(b)
	if err != nil {
		return "", "", err
	}
	if a == b {
		return "", "", invalid("chat.NormalizePair", "a direct conversation needs two distinct users")
	}
	if lessUserID(b, a) {
		a, b = b, a
	}
	return a, b, nil
}

func lessUserID(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}
