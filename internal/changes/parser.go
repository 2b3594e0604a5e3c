package changes

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BatchParser parses one change batch. Feed may be called multiple times with
// payload chunks; Finish parses the accumulated payload and reports the entry
// count. Entries are emitted through the callback as they are validated, in
// batch order. A parser is good for one batch; create a fresh one per message.
type BatchParser struct {
	buf  bytes.Buffer
	emit func(Change)

	lastSeq Sequence
}

// batchEnvelope is the polling-feed batch shape. The websocket feed sends the
// bare results array instead.
type batchEnvelope struct {
	Results []Change `json:"results"`
	LastSeq Sequence `json:"last_seq"`
}

// NewBatchParser creates a parser that emits each parsed entry to fn.
// fn may be nil when only the count matters.
func NewBatchParser(fn func(Change)) *BatchParser {
	return &BatchParser{emit: fn}
}

// Feed appends a payload chunk.
func (p *BatchParser) Feed(chunk []byte) {
	p.buf.Write(chunk)
}

// Finish parses the accumulated payload and returns the number of entries in
// the batch. Zero with a nil error means an empty batch: the peer has no more
// backlog right now.
func (p *BatchParser) Finish() (int, error) {
	data := bytes.TrimSpace(p.buf.Bytes())
	if len(data) == 0 {
		return 0, ErrEmptyBatch
	}

	var entries []Change
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &entries); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadBatch, err)
		}
	case '{':
		var env batchEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadBatch, err)
		}
		entries = env.Results
		p.lastSeq = env.LastSeq
	default:
		return 0, fmt.Errorf("%w: payload is not an array or envelope", ErrBadBatch)
	}

	for i, entry := range entries {
		if err := validate(entry); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
		if p.emit != nil {
			p.emit(entry)
		}
	}

	return len(entries), nil
}

// LastSeq returns the envelope's last_seq, if the batch carried one.
func (p *BatchParser) LastSeq() Sequence {
	return p.lastSeq
}

func validate(c Change) error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if c.Seq.IsZero() {
		return fmt.Errorf("%w: missing seq", ErrInvalidEntry)
	}
	return nil
}
