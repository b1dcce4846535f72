// Package transcript turns external speech-to-text output into utterances for
// the dispatch engine.
//
// Speech recognition itself runs outside castvox. Two sources are provided:
// [LineSource] reads one utterance per line from a stream (typically stdin,
// fed by a recogniser process), and [Handler] accepts utterances over HTTP.
// Both deliver to a [Sink].
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxUtteranceBytes bounds one utterance. Longer lines or bodies are rejected.
const MaxUtteranceBytes = 4096

// Utterance is one recognised phrase.
type Utterance struct {
	// ID uniquely identifies the utterance in logs and traces.
	ID string

	// Text is the recognised phrase, trimmed of surrounding whitespace.
	Text string

	// Source names where the utterance came from ("stdin", "http", ...).
	Source string

	// ReceivedAt is when castvox received the utterance.
	ReceivedAt time.Time
}

// NewUtterance returns an utterance with a fresh ID stamped now.
func NewUtterance(source, text string) Utterance {
	return Utterance{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(text),
		Source:     source,
		ReceivedAt: time.Now(),
	}
}

// Sink receives utterances. Implementations must be safe for concurrent use
// when more than one source is active.
type Sink interface {
	HandleUtterance(ctx context.Context, u Utterance)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, u Utterance)

// HandleUtterance calls f.
func (f SinkFunc) HandleUtterance(ctx context.Context, u Utterance) { f(ctx, u) }

// ---- line source ----

// LineSource reads newline-delimited utterances from a reader.
type LineSource struct {
	r    io.Reader
	name string
	log  *slog.Logger
}

// NewLineSource returns a source reading r. name is recorded as
// [Utterance.Source].
func NewLineSource(name string, r io.Reader) *LineSource {
	return &LineSource{r: r, name: name, log: slog.Default().With("component", "transcript", "source", name)}
}

// Run delivers each non-blank line to sink until the reader is exhausted or
// ctx is cancelled. Reaching EOF is not an error. Lines longer than
// [MaxUtteranceBytes] are logged and skipped. Cancellation does not
// interrupt a blocked Read; the loop exits on the next line.
func (s *LineSource) Run(ctx context.Context, sink Sink) error {
	// Room for the limit plus a trailing "\r\n".
	br := bufio.NewReaderSize(s.r, MaxUtteranceBytes+2)
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			err = s.skipLine(br, len(line))
		} else if len(line) > 0 {
			if ctx.Err() != nil {
				return nil
			}
			if text := strings.TrimSpace(string(line)); text != "" {
				sink.HandleUtterance(ctx, NewUtterance(s.name, text))
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.log.Debug("transcript source exhausted")
			return nil
		default:
			return fmt.Errorf("transcript: %s: read: %w", s.name, err)
		}
	}
}

// skipLine discards the rest of an overlong line, of which n bytes have
// already been read.
func (s *LineSource) skipLine(br *bufio.Reader, n int) error {
	for {
		rest, err := br.ReadSlice('\n')
		n += len(rest)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		s.log.Warn("dropping overlong transcript line", "bytes", n, "limit", MaxUtteranceBytes)
		return err
	}
}

// ---- HTTP source ----

type utteranceRequest struct {
	Text string `json:"text"`
}

type utteranceResponse struct {
	ID string `json:"id"`
}

// Handler accepts POST requests carrying an utterance either as a plain text
// body or as JSON {"text": "..."}. It answers 202 with {"id": "..."} as soon
// as the utterance is queued; the sink runs after the response is written.
type Handler struct {
	sink     Sink
	inflight sync.WaitGroup
}

// NewHandler returns an HTTP handler delivering to sink.
func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

// Wait blocks until every accepted utterance has been handled or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transcript: waiting for utterances: %w", ctx.Err())
	}
}

// Register adds POST /utterance to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /utterance", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxUtteranceBytes+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > MaxUtteranceBytes {
		http.Error(w, "utterance too long", http.StatusRequestEntityTooLarge)
		return
	}

	text := string(body)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req utteranceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "decode json: "+err.Error(), http.StatusBadRequest)
			return
		}
		text = req.Text
	}
	if !utf8.ValidString(text) {
		http.Error(w, "utterance is not valid UTF-8", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(text) == "" {
		http.Error(w, "empty utterance", http.StatusBadRequest)
		return
	}

	u := NewUtterance("http", text)
	// A client disconnect must not abort an action half way.
	ctx := context.WithoutCancel(r.Context())
	h.inflight.Go(func() { h.sink.HandleUtterance(ctx, u) })

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(utteranceResponse{ID: u.ID})
}
