package llm

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
)

// GatewayClient talks to the OpenAI-compatible model gateway. SDK-level
// retries are disabled: the engine retry layer decides when to call again.
type GatewayClient struct {
	client openai.Client
	apiKey string
}

// NewGatewayClient builds a client from settings. The returned client is
// safe for concurrent use.
func NewGatewayClient(cfg config.Settings) *GatewayClient {
	httpClient := &http.Client{
		Timeout: cfg.GatewayTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
		},
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.GatewayAPIKey),
		option.WithBaseURL(cfg.GatewayBaseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpClient),
	)
	return &GatewayClient{client: client, apiKey: cfg.GatewayAPIKey}
}

// CreateResponseStream implements Client.
func (c *GatewayClient) CreateResponseStream(ctx context.Context, req Request) (Streamer, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	// Gateway extensions ride as extra body fields on the standard
	// chat-completions request.
	var opts []option.RequestOption
	if req.ThinkingMode != "" {
		opts = append(opts, option.WithJSONSet("thinking", map[string]string{
			"type": req.ThinkingMode,
		}))
	}
	if req.UseWebsearch {
		opts = append(opts, option.WithJSONSet("tools", []map[string]any{
			{
				"type": "web_search",
				"web_search": map[string]any{
					"limit": req.WebsearchLimit,
				},
			},
		}))
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params, opts...)

	cctx, cancel := context.WithCancel(ctx)
	gs := &gatewayStreamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		events: make(chan StreamEvent, 32),
	}
	go gs.run()
	return gs, nil
}

// gatewayStreamer pumps SDK chunks into normalized stream events on a
// buffered channel and records the terminal error once.
type gatewayStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	events chan StreamEvent

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func (s *gatewayStreamer) Recv() (StreamEvent, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return StreamEvent{}, err
		}
		return StreamEvent{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return StreamEvent{}, err
	}
}

func (s *gatewayStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *gatewayStreamer) run() {
	defer close(s.events)
	defer func() { _ = s.stream.Close() }()

	started := false
	searchStarted := false
	var sources []string
	seen := make(map[string]struct{})

	for s.stream.Next() {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}

		chunk := s.stream.Current()

		if !started {
			started = true
			if !s.emit(StreamEvent{Type: EventResponseStart}) {
				return
			}
		}

		// Web search citations arrive as a chunk-level extension field.
		if refs := extractReferences(chunk); len(refs) > 0 {
			if !searchStarted {
				searchStarted = true
				if !s.emit(StreamEvent{Type: EventSearchStart}) {
					return
				}
			}
			for _, url := range refs {
				if _, dup := seen[url]; dup {
					continue
				}
				seen[url] = struct{}{}
				sources = append(sources, url)
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if thinking := extraString(delta.JSON.ExtraFields["reasoning_content"].Raw()); thinking != "" {
			if !s.emit(StreamEvent{Type: EventThinkingDelta, Delta: thinking}) {
				return
			}
		}
		if delta.Content != "" {
			if !s.emit(StreamEvent{Type: EventOutputDelta, Delta: delta.Content}) {
				return
			}
		}
	}

	if err := s.stream.Err(); err != nil {
		s.setErr(err)
		return
	}
	if err := s.ctx.Err(); err != nil {
		s.setErr(err)
		return
	}

	if searchStarted {
		if !s.emit(StreamEvent{
			Type: EventSearchComplete,
			Meta: map[string]any{"sources": sources},
		}) {
			return
		}
	}
	s.emit(StreamEvent{Type: EventResponseComplete})
}

func (s *gatewayStreamer) emit(ev StreamEvent) bool {
	select {
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return false
	case s.events <- ev:
		return true
	}
}

func (s *gatewayStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *gatewayStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// extractReferences pulls citation URLs from the chunk's "references"
// extension field, when present.
func extractReferences(chunk openai.ChatCompletionChunk) []string {
	raw := chunk.JSON.ExtraFields["references"].Raw()
	if raw == "" {
		return nil
	}
	var refs []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.URL != "" {
			out = append(out, r.URL)
		}
	}
	return out
}

// extraString decodes a raw JSON string extension field.
func extraString(raw string) string {
	if raw == "" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}
	return s
}
