package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/convo/internal/domain"
)

// errMalformedReply is returned when a send reply is not JSON at all.
var errMalformedReply = errors.New("malformed reply from assistant service")

// record is one history entry as the service may send it.
// Field names vary between service versions: role or sender, content or message.
type record struct {
	ID        json.RawMessage `json:"id"`
	Role      string          `json:"role"`
	Sender    string          `json:"sender"`
	Content   string          `json:"content"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// envelope is the wrapped form of a history response.
type envelope struct {
	Messages json.RawMessage `json:"messages"`
	History  json.RawMessage `json:"history"`
}

// normalizeHistory turns a history response into messages, oldest first.
// Anything that is not a list of records yields an empty slice.
func (g *Gateway) normalizeHistory(body json.RawMessage) []domain.Message {
	items := historyItems(body)
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
			continue
		}
		var rec record
		if err := json.Unmarshal(item, &rec); err != nil {
			continue
		}
		msgs = append(msgs, g.fromRecord(rec))
	}
	return msgs
}

func historyItems(body json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if json.Unmarshal(trimmed, &items) != nil {
			return nil
		}
	case '{':
		var env envelope
		if json.Unmarshal(trimmed, &env) != nil {
			return nil
		}
		inner := env.Messages
		if len(inner) == 0 {
			inner = env.History
		}
		if json.Unmarshal(inner, &items) != nil {
			return nil
		}
	}
	return items
}

func (g *Gateway) fromRecord(rec record) domain.Message {
	role := domain.Role(rec.Role)
	if rec.Role == "" {
		role = domain.RoleAssistant
		if rec.Sender == string(domain.RoleUser) {
			role = domain.RoleUser
		}
	}

	content := rec.Content
	if content == "" {
		content = rec.Message
	}

	id := parseID(rec.ID)
	if id == "" {
		id = g.newID()
	}

	ts, ok := parseTimestamp(rec.Timestamp)
	if !ok {
		ts = g.now()
	}

	return domain.Message{ID: id, Role: role, Content: content, Timestamp: ts}
}

// reply is the body of a successful send.
type reply struct {
	ID        json.RawMessage `json:"id"`
	Message   string          `json:"message"`
	Content   string          `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// parseReply builds the confirmed assistant message from a send response.
// A reply without text gets EmptyResponseContent.
func (g *Gateway) parseReply(body json.RawMessage) (domain.Message, error) {
	trimmed := bytes.TrimSpace(body)
	var rep reply
	if len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			return domain.Message{}, errMalformedReply
		}
		if trimmed[0] == '{' {
			if err := json.Unmarshal(trimmed, &rep); err != nil {
				return domain.Message{}, errMalformedReply
			}
		}
	}

	content := rep.Message
	if content == "" {
		content = rep.Content
	}
	if content == "" {
		content = domain.EmptyResponseContent
	}

	id := parseID(rep.ID)
	if id == "" {
		id = g.newID()
	}

	ts, ok := parseTimestamp(rep.Timestamp)
	if !ok {
		ts = g.now()
	}

	return domain.Message{ID: id, Role: domain.RoleAssistant, Content: content, Timestamp: ts}, nil
}

// parseID accepts string and numeric ids. Numbers are rendered in decimal.
func parseID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// parseTimestamp accepts epoch milliseconds, as a number or a numeric
// string, and RFC 3339 strings.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}

	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return fromMillis(n)
	}

	var s string
	if json.Unmarshal(raw, &s) != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return fromMillis(json.Number(s))
}

func fromMillis(n json.Number) (time.Time, bool) {
	if ms, err := n.Int64(); err == nil {
		return time.UnixMilli(ms), true
	}
	if f, err := n.Float64(); err == nil {
		return time.UnixMilli(int64(f)), true
	}
	return time.Time{}, false
}
