// Package llm provides the streaming facade over the upstream model
// gateway. The graph engine consumes a normalized event stream and never
// touches the vendor SDK directly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrMissingAPIKey is returned when a model call is attempted on an
// unconfigured client. Startup succeeds without a key so health checks work.
var ErrMissingAPIKey = errors.New("llm: gateway API key not configured")

// StreamEventType classifies normalized stream events.
type StreamEventType string

const (
	EventThinkingDelta    StreamEventType = "thinking_delta"
	EventOutputDelta      StreamEventType = "output_delta"
	EventSearchStart      StreamEventType = "search_start"
	EventSearchProgress   StreamEventType = "search_progress"
	EventSearchComplete   StreamEventType = "search_complete"
	EventResponseStart    StreamEventType = "response_start"
	EventResponseComplete StreamEventType = "response_complete"
	EventStreamError      StreamEventType = "error"
)

// StreamEvent is one normalized event from the model stream.
type StreamEvent struct {
	Type  StreamEventType
	Delta string
	// Meta carries event extras; search_complete events put the deduped
	// source URLs under "sources".
	Meta map[string]any
}

// Sources returns the canonical source list carried by a search_complete
// event. References are normalized and deduped on the way out.
func (e StreamEvent) Sources() []string {
	raw, ok := e.Meta["sources"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return NormalizeSources(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return NormalizeSources(out)
	}
	return nil
}

// Message is one chat message in a model request.
type Message struct {
	Role    string
	Content string
}

// Request describes one streaming model call.
type Request struct {
	Model          string
	Messages       []Message
	ThinkingMode   string
	UseWebsearch   bool
	WebsearchLimit int
}

// Streamer yields normalized stream events. Recv returns io.EOF after the
// final event; Close is safe to call at any time.
type Streamer interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Client is the model gateway facade.
type Client interface {
	// CreateResponseStream opens a streaming completion. The client never
	// retries; the engine's retry layer owns all retries.
	CreateResponseStream(ctx context.Context, req Request) (Streamer, error)
}

// Result is the aggregate of a fully consumed stream.
type Result struct {
	Output   string
	Thinking string
	Sources  []string
}

// Aggregate drains a stream into a single result. Used by debate sub-calls
// and the synthesizer, which do not forward per-delta events.
func Aggregate(s Streamer) (Result, error) {
	defer func() { _ = s.Close() }()

	var res Result
	seen := make(map[string]struct{})
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("stream aggregation failed: %w", err)
		}
		switch ev.Type {
		case EventOutputDelta:
			res.Output += ev.Delta
		case EventThinkingDelta:
			res.Thinking += ev.Delta
		case EventSearchComplete:
			for _, src := range ev.Sources() {
				if _, dup := seen[src]; dup {
					continue
				}
				seen[src] = struct{}{}
				res.Sources = append(res.Sources, src)
			}
		}
	}
}
