package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

// StreamError is a failure reported by the backend inside the stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// StreamingChatClient sends chat messages and delivers the streamed reply
// chunk by chunk as it arrives. One stream is tracked at a time; a new Send
// supersedes the cancellation handle of the previous one.
type StreamingChatClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     uint64
	loading atomic.Bool
}

// NewStreamingChatClient creates a client for the API at baseURL. Streams
// have no timeout of their own; they end with the transport or on Stop.
func NewStreamingChatClient(baseURL string, logger *zap.Logger) *StreamingChatClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingChatClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: NewPooledHTTPClient(4, 0),
		logger:     logger,
	}
}

// Loading reports whether a stream is in flight.
func (c *StreamingChatClient) Loading() bool {
	return c.loading.Load()
}

// Stop aborts the in-flight stream. Its completion and error callbacks are
// suppressed. Calling Stop with no active stream is a no-op.
func (c *StreamingChatClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loading.Store(false)
}

// Send posts req and blocks while the reply streams. onChunk receives text
// chunks in transport order; then exactly one of onComplete or onError is
// called, unless the stream was stopped or ctx ended.
func (c *StreamingChatClient) Send(ctx context.Context, req models.ChatRequest, onChunk func(string), onComplete func(), onError func(error)) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.loading.Store(true)
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.gen == gen {
			c.cancel = nil
			c.loading.Store(false)
		}
		c.mu.Unlock()
	}()

	aborted := func() bool { return ctx.Err() != nil }
	fail := func(err error) {
		if aborted() {
			return
		}
		c.logger.Warn("chat stream failed", zap.String("session_id", req.SessionID), zap.Error(err))
		onError(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		fail(fmt.Errorf("chat stream: encoding request: %w", err))
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		fail(fmt.Errorf("chat stream: building request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		fail(fmt.Errorf("chat stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail(responseError("chat stream", resp))
		return
	}

	// handle reports whether the stream must end.
	handle := func(line string) bool {
		if aborted() {
			return true
		}
		kind, text := ParseLine(line)
		switch kind {
		case LineChunk:
			onChunk(text)
		case LineError:
			fail(&StreamError{Message: text})
			return true
		}
		return false
	}

	var dec LineDecoder
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				if handle(line) {
					return
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			fail(fmt.Errorf("chat stream: reading: %w", rerr))
			return
		}
	}
	if line, ok := dec.Flush(); ok && handle(line) {
		return
	}
	if aborted() {
		return
	}
	onComplete()
}
