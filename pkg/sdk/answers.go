package askdex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxEventBytes = 4 << 20

// Ask starts the answer pipeline for one question. Request validation
// failures are returned here; later failures arrive as an error event.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*Stream, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	return c.openStream(ctx, "ask", "/v1/ask", req)
}

// ChatService sends messages to one chat session.
type ChatService struct {
	c         *Client
	sessionID string
}

// Send posts a message and streams the reply.
func (s *ChatService) Send(ctx context.Context, req ChatRequest) (*Stream, error) {
	if s.sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	return s.c.openStream(ctx, "chat.send", s.path("/messages"), req)
}

// Turns returns the persisted turns of the session, oldest first.
func (s *ChatService) Turns(ctx context.Context) (_ []Turn, err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("chat.turns", start, err) }()

	var resp struct {
		Turns []Turn `json:"turns"`
	}
	if err = s.c.do(ctx, http.MethodGet, s.path("/turns"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

// Delete removes the session and its history.
func (s *ChatService) Delete(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("chat.delete", start, err) }()

	if s.sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	return s.c.do(ctx, http.MethodDelete, s.path(""), nil, nil, nil, http.StatusNoContent)
}

func (s *ChatService) path(suffix string) string {
	return "/v1/chat/" + url.PathEscape(s.sessionID) + suffix
}

func (c *Client) openStream(ctx context.Context, op, path string, body any) (*Stream, error) {
	start := time.Now()
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		c.obs.observe(op, start, err)
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("POST %s: %w", path, err)
		c.obs.observe(op, start, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err = decodeAPIError(resp)
		_ = resp.Body.Close()
		c.obs.observe(op, start, err)
		return nil, err
	}

	return &Stream{
		body:    resp.Body,
		scanner: newScanner(resp.Body),
		done:    func(err error) { c.obs.observe(op, start, err) },
	}, nil
}

// Stream iterates over the events of an Ask or Chat response.
// It is not safe for concurrent use.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    func(error)

	cur   Event
	final *FinalAnswer
	err   error

	finished  bool
	closeOnce sync.Once
}

// Next advances to the next event. A terminal error event is delivered like
// any other; the following call returns false.
func (s *Stream) Next() bool {
	if s.finished {
		return false
	}
	ev, err := s.read()
	if err != nil {
		if err != io.EOF {
			s.err = err
		} else if s.final == nil && s.err == nil {
			s.err = io.ErrUnexpectedEOF
		}
		s.finish()
		return false
	}

	s.cur = ev
	switch ev.Type {
	case EventFinalAnswer:
		s.final = ev.Final
	case EventError:
		s.err = streamError(ev)
	}
	return true
}

// Event returns the event read by the last call to Next.
func (s *Stream) Event() Event {
	return s.cur
}

// Err returns the error that ended the stream. A terminal error event is
// returned as *StreamError.
func (s *Stream) Err() error {
	return s.err
}

// Final drains the stream and returns the final answer.
func (s *Stream) Final() (*FinalAnswer, error) {
	defer s.Close()
	for s.Next() {
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.final, nil
}

// Close releases the connection. The server stops work for the request.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.finish()
		err = s.body.Close()
	})
	return err
}

func (s *Stream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	if s.done != nil {
		s.done(s.err)
	}
}

// read returns the next dispatched event. Comment lines and events
// without data are skipped.
func (s *Stream) read() (Event, error) {
	var (
		name string
		data strings.Builder
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				name = ""
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return Event{}, fmt.Errorf("decode %s event: %w", name, err)
			}
			if ev.Type == "" {
				ev.Type = EventType(name)
			}
			return ev, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read event stream: %w", err)
	}
	return Event{}, io.EOF
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventBytes)
	return sc
}

func streamError(ev Event) error {
	se := &StreamError{Stage: ev.Stage}
	if ev.Error != nil {
		se.Kind = ev.Error.Kind
		se.Message = ev.Error.Message
	}
	return se
}
