package changes

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBatchParser_BareArray(t *testing.T) {
	var got []Change
	p := NewBatchParser(func(c Change) { got = append(got, c) })
	p.Feed([]byte(`[{"seq":1,"id":"doc1","changes":[{"rev":"1-abc"}]},`))
	p.Feed([]byte(`{"seq":2,"id":"doc2","changes":[{"rev":"3-def"}],"deleted":true}]`))

	n, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if len(got) != 2 {
		t.Fatalf("emitted %d entries, want 2", len(got))
	}
	if got[0].ID != "doc1" || got[0].Seq.String() != "1" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if revs := got[0].Revs(); len(revs) != 1 || revs[0] != "1-abc" {
		t.Errorf("entry 0 revs = %v, want [1-abc]", revs)
	}
	if !got[1].Deleted {
		t.Error("entry 1 should be deleted")
	}
}

func TestBatchParser_EmptyBatch(t *testing.T) {
	emitted := 0
	p := NewBatchParser(func(Change) { emitted++ })
	p.Feed([]byte(`[]`))

	n, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	if emitted != 0 {
		t.Errorf("emitted %d entries, want 0", emitted)
	}
}

func TestBatchParser_Envelope(t *testing.T) {
	var got []Change
	p := NewBatchParser(func(c Change) { got = append(got, c) })
	p.Feed([]byte(`{"results":[{"seq":"5-xyz","id":"doc5","changes":[{"rev":"2-b"}]}],"last_seq":"5-xyz"}`))

	n, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if got[0].Seq.String() != "5-xyz" {
		t.Errorf("seq = %q, want %q", got[0].Seq.String(), "5-xyz")
	}
	if p.LastSeq().String() != "5-xyz" {
		t.Errorf("last_seq = %q, want %q", p.LastSeq().String(), "5-xyz")
	}
}

func TestBatchParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"empty payload", "", ErrEmptyBatch},
		{"whitespace only", "  \n", ErrEmptyBatch},
		{"truncated json", `[{"seq":1,`, ErrBadBatch},
		{"wrong shape", `"changes"`, ErrBadBatch},
		{"missing id", `[{"seq":1,"changes":[{"rev":"1-a"}]}]`, ErrInvalidEntry},
		{"missing seq", `[{"id":"doc1","changes":[{"rev":"1-a"}]}]`, ErrInvalidEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewBatchParser(nil)
			p.Feed([]byte(tt.payload))
			_, err := p.Finish()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Finish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSequence_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		json string
		text string
	}{
		{"number", `42`, "42"},
		{"string", `"123-abcdef"`, "123-abcdef"},
		{"compound", `"0:10-deadbeef"`, "0:10-deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seq Sequence
			if err := json.Unmarshal([]byte(tt.json), &seq); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if seq.String() != tt.text {
				t.Errorf("String() = %q, want %q", seq.String(), tt.text)
			}

			out, err := json.Marshal(seq)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(out) != tt.json {
				t.Errorf("marshal = %s, want %s", out, tt.json)
			}

			// Checkpoint text form parses back to the same raw value
			back, err := json.Marshal(ParseSequence(seq.String()))
			if err != nil {
				t.Fatalf("marshal parsed failed: %v", err)
			}
			if string(back) != tt.json {
				t.Errorf("ParseSequence round-trip = %s, want %s", back, tt.json)
			}
		})
	}
}

func TestSequence_Zero(t *testing.T) {
	var seq Sequence
	if !seq.IsZero() {
		t.Error("zero sequence should report IsZero")
	}
	if seq.String() != "" {
		t.Errorf("String() = %q, want empty", seq.String())
	}
	if !ParseSequence("").IsZero() {
		t.Error("ParseSequence of empty string should be zero")
	}
}

func TestFeedOptions_Marshal(t *testing.T) {
	opts := FeedOptions{
		Since:        ParseSequence("10"),
		Filter:       "app/important",
		FilterParams: map[string]any{"channels": "alpha,beta"},
		Style:        "all_docs",
		Heartbeat:    30 * time.Second,
		IncludeDocs:  true,
	}

	data, err := json.Marshal(opts)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if m["since"] != float64(10) {
		t.Errorf("since = %v, want 10", m["since"])
	}
	if m["style"] != "all_docs" {
		t.Errorf("style = %v, want all_docs", m["style"])
	}
	if m["heartbeat"] != float64(30000) {
		t.Errorf("heartbeat = %v, want 30000", m["heartbeat"])
	}
	if m["filter"] != "app/important" {
		t.Errorf("filter = %v, want app/important", m["filter"])
	}
	if m["channels"] != "alpha,beta" {
		t.Errorf("channels = %v, want alpha,beta", m["channels"])
	}
	if m["include_docs"] != true {
		t.Errorf("include_docs = %v, want true", m["include_docs"])
	}
	if _, ok := m["limit"]; ok {
		t.Error("limit should be omitted when zero")
	}
}

func TestFeedOptions_MarshalEmpty(t *testing.T) {
	data, err := json.Marshal(FeedOptions{})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("marshal = %s, want {}", data)
	}
}
