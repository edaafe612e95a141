package protocol

import (
	"errors"
	"log"
	"strconv"
	"strings"
	"time"
)

// Frame types (wire tags)
const (
	TypeAuth      = "AUTH"
	TypeMessage   = "MSG"
	TypeBroadcast = "BROADCAST"
	TypeStatus    = "STATUS"
	TypeError     = "ERROR"
)

var ErrInvalidFrame = errors.New("invalid frame format")

// WireTime is the canonical format for all newly emitted timestamps.
const WireTime = time.RFC3339

// legacyTimeFormats are attempted in this fixed order when parsing inbound
// timestamps. Older builds of the admission client persisted and streamed
// timestamps without a zone and sometimes with a space separator.
var legacyTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Frame is one parsed unit of the wire protocol. Which fields are set depends
// on Type and on the direction the frame traveled.
type Frame struct {
	Type       string
	UserID     int64     // AUTH: connecting user; STATUS push: subject user
	ReceiverID int64     // MSG client -> server
	SenderID   int64     // MSG server -> client
	Body       string    // MSG, BROADCAST
	Status     string    // STATUS
	Timestamp  time.Time // MSG server -> client
	Reason     string    // ERROR
}

// ParseClientLine parses a frame sent by a client to the server:
//
//	AUTH:<userId>
//	MSG:<receiverId>:<body>
//	BROADCAST:<body>
//	STATUS:<statusString>
//
// The body may contain colons; only the delimiters the frame type expects are
// split on.
func ParseClientLine(line string) (*Frame, error) {
	line = trimLine(line)

	tag, rest, _ := strings.Cut(line, ":")
	switch tag {
	case TypeAuth:
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		return &Frame{Type: TypeAuth, UserID: id}, nil

	case TypeMessage:
		recv, body, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, ErrInvalidFrame
		}
		id, err := strconv.ParseInt(recv, 10, 64)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		return &Frame{Type: TypeMessage, ReceiverID: id, Body: body}, nil

	case TypeBroadcast:
		if rest == "" {
			return nil, ErrInvalidFrame
		}
		return &Frame{Type: TypeBroadcast, Body: rest}, nil

	case TypeStatus:
		if rest == "" {
			return nil, ErrInvalidFrame
		}
		return &Frame{Type: TypeStatus, Status: rest}, nil
	}

	return nil, ErrInvalidFrame
}

// ParseServerLine parses a frame pushed by the server to a client:
//
//	MSG:<senderId>:<isoTimestamp>:<body>
//	STATUS:<userId>:<statusString>
//	ERROR:<reason>
//
// The timestamp itself contains colons, so it is matched against the known
// formats colon by colon before the remainder is taken as the body.
func ParseServerLine(line string) (*Frame, error) {
	line = trimLine(line)

	tag, rest, _ := strings.Cut(line, ":")
	switch tag {
	case TypeMessage:
		sender, tail, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, ErrInvalidFrame
		}
		id, err := strconv.ParseInt(sender, 10, 64)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		ts, body := splitTimestamp(tail)
		return &Frame{Type: TypeMessage, SenderID: id, Timestamp: ts, Body: body}, nil

	case TypeStatus:
		user, status, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, ErrInvalidFrame
		}
		id, err := strconv.ParseInt(user, 10, 64)
		if err != nil {
			return nil, ErrInvalidFrame
		}
		return &Frame{Type: TypeStatus, UserID: id, Status: status}, nil

	case TypeError:
		return &Frame{Type: TypeError, Reason: rest}, nil
	}

	return nil, ErrInvalidFrame
}

// ParseTimestamp tries each known timestamp format in order.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range legacyTimeFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, ErrInvalidFrame
}

// splitTimestamp locates the timestamp at the front of tail and returns it
// together with the remaining body. Candidate prefixes end at each colon, so a
// body containing colons never bleeds into the timestamp. When nothing
// matches, the whole tail is kept as the body and "now" is substituted so a
// malformed timestamp cannot crash the receive loop.
func splitTimestamp(tail string) (time.Time, string) {
	for _, layout := range legacyTimeFormats {
		for _, end := range colonOffsets(tail) {
			if ts, err := time.Parse(layout, tail[:end]); err == nil {
				body := ""
				if end < len(tail) {
					body = tail[end+1:]
				}
				return ts, body
			}
		}
	}

	log.Printf("unparseable timestamp in message frame, substituting now: %q", tail)
	return time.Now().UTC(), tail
}

// colonOffsets returns the offsets of every colon in s plus len(s), i.e. the
// possible end positions of a timestamp prefix.
func colonOffsets(s string) []int {
	var offsets []int
	for i, ch := range s {
		if ch == ':' {
			offsets = append(offsets, i)
		}
	}
	return append(offsets, len(s))
}

func trimLine(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// FormatAuth builds the client authentication frame.
func FormatAuth(userID int64) string {
	return TypeAuth + ":" + strconv.FormatInt(userID, 10) + "\n"
}

// FormatDirect builds the client -> server direct message frame.
func FormatDirect(receiverID int64, body string) string {
	return TypeMessage + ":" + strconv.FormatInt(receiverID, 10) + ":" + body + "\n"
}

// FormatBroadcast builds the client -> server broadcast frame.
func FormatBroadcast(body string) string {
	return TypeBroadcast + ":" + body + "\n"
}

// FormatStatus builds the client -> server status update frame.
func FormatStatus(status string) string {
	return TypeStatus + ":" + status + "\n"
}

// FormatMessagePush builds the server -> client message frame used for both
// live pushes and backlog replay.
func FormatMessagePush(senderID int64, ts time.Time, body string) string {
	return TypeMessage + ":" + strconv.FormatInt(senderID, 10) + ":" +
		ts.UTC().Format(WireTime) + ":" + body + "\n"
}

// FormatStatusPush builds the server -> client presence change frame.
func FormatStatusPush(userID int64, status string) string {
	return TypeStatus + ":" + strconv.FormatInt(userID, 10) + ":" + status + "\n"
}

// FormatError builds the error frame sent to a misbehaving peer.
func FormatError(reason string) string {
	return TypeError + ":" + reason + "\n"
}
