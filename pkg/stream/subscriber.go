// Package stream follows live run updates pushed by the relay over Server-Sent Events.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/go-resty/resty/v2"
)

const (
	streamPath   = "/workflows/%s/stream/"
	maxFrameSize = 1024 * 1024 // 1MB max frame line
)

// Options configures a Subscriber.
type Options struct {
	BaseURL string
	// Token is attached as a bearer token when the channel is opened.
	Token  string
	Logger *slog.Logger
}

// Subscriber opens one push channel per run id.
type Subscriber struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]*Handle
}

// NewSubscriber creates a new Subscriber.
func NewSubscriber(opts Options) *Subscriber {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// No client timeout: it would cut long running streams.
	client := resty.New().
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache")

	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	return &Subscriber{
		http:    client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With("module", "stream_subscriber"),
		open:    make(map[string]*Handle),
	}
}

// Handle owns the live channel of one run.
type Handle struct {
	runID  string
	owner  *Subscriber
	cancel context.CancelFunc
	once   sync.Once
	closed atomic.Bool
	done   chan struct{}
	err    error

	// deliverMu is held across each onUpdate call; delivering marks the
	// call so a Close issued from inside onUpdate does not wait on itself.
	deliverMu  sync.Mutex
	delivering atomic.Bool
}

// RunID returns the run this handle follows.
func (h *Handle) RunID() string {
	return h.runID
}

// Close stops observing the run. It does not cancel the remote workflow.
// Once Close returns no new onUpdate call starts; a call already in
// progress may finish. Calling Close more than once is a no-op.
func (h *Handle) Close() {
	h.once.Do(func() {
		if h.delivering.Load() {
			h.closed.Store(true)
		} else {
			h.deliverMu.Lock()
			h.closed.Store(true)
			h.deliverMu.Unlock()
		}

		h.cancel()
		h.owner.release(h)
	})
}

// deliver hands event to onUpdate unless the handle is closed.
func (h *Handle) deliver(event models.UpdateEvent, onUpdate func(models.UpdateEvent)) bool {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	if h.closed.Load() {
		return false
	}

	h.delivering.Store(true)
	defer h.delivering.Store(false)

	onUpdate(event)

	return true
}

// Closed reports whether the handle stopped delivering events.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Done is closed once the reader has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the connection failure that stopped the reader, if any. It is
// only meaningful after Done is closed.
func (h *Handle) Err() error {
	<-h.done

	return h.err
}

// Subscribe opens the push channel for runID and forwards each update to
// onUpdate from a single goroutine, in receipt order. A previous channel for
// the same run is closed first; of concurrent subscriptions for one run the
// last registered wins and the others come back closed. The channel closes
// itself after a terminal update; onUpdate is never called after that.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	runID string,
	onUpdate func(models.UpdateEvent),
) (*Handle, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}

	streamCtx, cancel := context.WithCancel(ctx)

	handle := &Handle{
		runID:  runID,
		owner:  s,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// register before connecting so a concurrent Subscribe closes this one
	s.mu.Lock()
	previous := s.open[runID]
	s.open[runID] = handle
	s.mu.Unlock()

	if previous != nil {
		s.logger.InfoContext(ctx, "Closing previous stream for run", "run_id", runID)
		previous.Close()
	}

	body, err := s.connect(streamCtx, runID)
	if err != nil {
		handle.err = err
		handle.Close()
		close(handle.done)

		s.logger.ErrorContext(ctx, "Failed to open update stream", "run_id", runID, "error", err)

		return nil, err
	}

	if handle.Closed() {
		_ = body.Close()
		close(handle.done)

		s.logger.InfoContext(ctx, "Update stream superseded before it started", "run_id", runID)

		return handle, nil
	}

	s.logger.InfoContext(ctx, "Update stream opened", "run_id", runID)

	go s.read(streamCtx, handle, body, onUpdate)

	return handle, nil
}

// Open returns the number of channels currently open.
func (s *Subscriber) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.open)
}

func (s *Subscriber) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open[h.runID] == h {
		delete(s.open, h.runID)
	}
}

func (s *Subscriber) connect(ctx context.Context, runID string) (io.ReadCloser, error) {
	endpoint := s.baseURL + fmt.Sprintf(streamPath, url.PathEscape(runID))

	resp, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(endpoint)
	if err != nil {
		return nil, &ConnectionError{RunID: runID, Err: fmt.Errorf("%w: %w", ErrStreamConnection, err)}
	}

	body := resp.RawBody()

	if resp.StatusCode() != http.StatusOK {
		_ = body.Close()

		return nil, &ConnectionError{
			RunID:      runID,
			StatusCode: resp.StatusCode(),
			Err:        ErrStreamConnection,
		}
	}

	return body, nil
}

func (s *Subscriber) read(
	ctx context.Context,
	handle *Handle,
	body io.ReadCloser,
	onUpdate func(models.UpdateEvent),
) {
	logger := s.logger.With("run_id", handle.runID)
	terminal := false

	defer close(handle.done)
	defer func() {
		_ = body.Close()
	}()
	defer handle.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}

			frame := data.String()
			data.Reset()

			event, ok, err := DecodeFrame(frame)
			if err != nil {
				logger.WarnContext(ctx, "Dropping malformed stream frame", "error", err)

				continue
			}

			if !ok {
				continue
			}

			if event.RunID == "" {
				event.RunID = handle.runID
			}

			if !handle.deliver(event, onUpdate) {
				return
			}

			if event.IsTerminal() {
				terminal = true

				logger.InfoContext(ctx, "Run reached terminal state, closing stream", "state", event.State)

				return
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}

			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if handle.Closed() || terminal {
		return
	}

	if err := scanner.Err(); err != nil {
		handle.err = &ConnectionError{RunID: handle.runID, Err: fmt.Errorf("%w: %w", ErrStreamConnection, err)}
	} else {
		handle.err = &ConnectionError{RunID: handle.runID, Err: ErrStreamEnded}
	}

	logger.WarnContext(ctx, "Update stream lost before terminal state", "error", handle.err)
}
