package changes

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrEmptyBatch   = errors.New("empty change batch payload")
	ErrBadBatch     = errors.New("malformed change batch")
	ErrInvalidEntry = errors.New("invalid change entry")
)

// Sequence is an opaque feed sequence value. Feeds emit numbers or strings;
// the raw JSON form is kept so the value round-trips into "since" options and
// checkpoints unchanged.
type Sequence struct {
	raw json.RawMessage
}

// ParseSequence builds a Sequence from its stored text form. Values that are
// not valid JSON (e.g. a bare string checkpoint written by another client)
// are treated as JSON strings.
func ParseSequence(s string) Sequence {
	if s == "" {
		return Sequence{}
	}
	if json.Valid([]byte(s)) {
		return Sequence{raw: json.RawMessage(s)}
	}
	quoted, _ := json.Marshal(s)
	return Sequence{raw: quoted}
}

// UnmarshalJSON keeps the raw form.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		s.raw = nil
		return nil
	}
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the raw form unchanged.
func (s Sequence) MarshalJSON() ([]byte, error) {
	if s.raw == nil {
		return []byte("null"), nil
	}
	return s.raw, nil
}

// IsZero reports whether the sequence is unset.
func (s Sequence) IsZero() bool {
	return len(s.raw) == 0
}

// String returns the sequence in checkpoint text form: numbers as digits,
// strings without surrounding quotes.
func (s Sequence) String() string {
	if len(s.raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(s.raw, &str); err == nil {
		return str
	}
	return string(s.raw)
}

// ChangeRev is one revision in a change entry.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// Change is a single change-feed entry.
type Change struct {
	Seq     Sequence        `json:"seq"`
	ID      string          `json:"id"`
	Changes []ChangeRev     `json:"changes"`
	Deleted bool            `json:"deleted,omitempty"`
	Doc     json.RawMessage `json:"doc,omitempty"`
}

// Revs returns the revision IDs of the entry.
func (c Change) Revs() []string {
	revs := make([]string, len(c.Changes))
	for i, r := range c.Changes {
		revs[i] = r.Rev
	}
	return revs
}

// FeedOptions are the feed query options sent as the first frame after the
// websocket upgrade (the handshake itself stays a plain GET). The same shape
// serves polling transports as request parameters.
type FeedOptions struct {
	Since        Sequence
	Limit        int
	Filter       string
	FilterParams map[string]any
	Style        string // "all_docs" or "main_only"
	Heartbeat    time.Duration
	IncludeDocs  bool
	ActiveOnly   bool
}

// MarshalJSON serializes the options the way the feed expects them: heartbeat
// in milliseconds, filter parameters merged as top-level keys, unset fields
// omitted.
func (o FeedOptions) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	for k, v := range o.FilterParams {
		m[k] = v
	}
	if !o.Since.IsZero() {
		m["since"] = json.RawMessage(o.Since.raw)
	}
	if o.Limit > 0 {
		m["limit"] = o.Limit
	}
	if o.Filter != "" {
		m["filter"] = o.Filter
	}
	if o.Style != "" {
		m["style"] = o.Style
	}
	if o.Heartbeat > 0 {
		m["heartbeat"] = o.Heartbeat.Milliseconds()
	}
	if o.IncludeDocs {
		m["include_docs"] = true
	}
	if o.ActiveOnly {
		m["active_only"] = true
	}
	return json.Marshal(m)
}
