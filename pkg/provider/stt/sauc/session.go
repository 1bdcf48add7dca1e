package sauc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	// outboundBuffer bounds the encoded frames waiting for the writer.
	outboundBuffer = 4

	// readLimit caps a single server message.
	readLimit = 4 << 20
)

// errPeerClosed reports a close frame from the service. readFrame returns it
// joined with the [websocket.CloseError] carrying the status code and reason.
var errPeerClosed = errors.New("sauc: connection closed by peer")

// State is the lifecycle stage of a session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateStreaming
	StateDraining
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// session is one recognition over one connection.
type session struct {
	cfg   Config
	log   *slog.Logger
	hooks Hooks

	conn *websocket.Conn

	// seq is the next sequence number. It is touched by sendConfig and then
	// only by the pacer goroutine.
	seq int32

	// writeErr is owned by the writer goroutine until the stream is joined.
	writeErr error

	state atomic.Int32

	pacerDone func()
}

func newSession(cfg Config, log *slog.Logger, hooks Hooks) *session {
	return &session{cfg: cfg, log: log, hooks: hooks, seq: 1}
}

// State returns the current lifecycle stage.
func (s *session) State() State { return State(s.state.Load()) }

func (s *session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Debug("sauc: session state", "from", prev, "to", next)
	}
}

// fail moves the session to StateErrored and returns err.
func (s *session) fail(err error) error {
	s.setState(StateErrored)
	return err
}

// connect dials the service with the authentication headers.
func (s *session) connect(ctx context.Context) error {
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	requestID := uuid.NewString()
	headers := http.Header{}
	headers.Set("X-Api-Resource-Id", s.cfg.Credentials.ResourceID)
	headers.Set("X-Api-Request-Id", requestID)
	headers.Set("X-Api-Access-Key", s.cfg.Credentials.AccessKey)
	headers.Set("X-Api-App-Key", s.cfg.Credentials.AppKey)

	conn, resp, err := websocket.Dial(dialCtx, s.cfg.Endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		s.log.Error("sauc: dial failed", "endpoint", s.cfg.Endpoint, "status", status, "err", err)
		return s.fail(fmt.Errorf("%w: dial %s: %w", ErrTransport, s.cfg.Endpoint, err))
	}
	conn.SetReadLimit(readLimit)
	s.conn = conn
	s.log = s.log.With("request_id", requestID)
	if resp != nil {
		s.log = s.log.With("logid", resp.Header.Get("X-Tt-Logid"))
	}
	s.log.Debug("sauc: connected", "endpoint", s.cfg.Endpoint)
	return nil
}

type configPayload struct {
	User    userConfig    `json:"user"`
	Audio   audioConfig   `json:"audio"`
	Request requestConfig `json:"request"`
}

type userConfig struct {
	UID string `json:"uid"`
}

type audioConfig struct {
	Format  string `json:"format"`
	Codec   string `json:"codec"`
	Rate    int    `json:"rate"`
	Bits    int    `json:"bits"`
	Channel int    `json:"channel"`
}

type requestConfig struct {
	ModelName       string `json:"model_name"`
	EnableITN       bool   `json:"enable_itn"`
	EnablePunc      bool   `json:"enable_punc"`
	EnableDDC       bool   `json:"enable_ddc"`
	ShowUtterances  bool   `json:"show_utterances"`
	EnableNonstream bool   `json:"enable_nonstream"`
}

func (s *session) configPayload() configPayload {
	r := s.cfg.Request
	return configPayload{
		User: userConfig{UID: s.cfg.UID},
		Audio: audioConfig{
			Format:  "wav",
			Codec:   "raw",
			Rate:    s.cfg.SampleRate,
			Bits:    16,
			Channel: 1,
		},
		Request: requestConfig{
			ModelName:       r.ModelName,
			EnableITN:       r.EnableITN,
			EnablePunc:      r.EnablePunc,
			EnableDDC:       r.EnableDDC,
			ShowUtterances:  r.ShowUtterances,
			EnableNonstream: r.EnableNonstream,
		},
	}
}

// sendConfig sends the configuration frame and waits for its acknowledgement.
func (s *session) sendConfig(ctx context.Context) error {
	s.setState(StateConfiguring)

	payload, err := json.Marshal(s.configPayload())
	if err != nil {
		return s.fail(fmt.Errorf("sauc: marshal config: %w", err))
	}
	frame, err := ConfigRequest{Sequence: s.seq, Payload: payload}.Encode()
	if err != nil {
		return s.fail(err)
	}
	s.seq++

	if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return s.fail(fmt.Errorf("%w: write config: %w", ErrTransport, err))
	}
	s.frameSent(FullClientRequest)

	ack, err := s.readFrame(ctx)
	switch {
	case errors.Is(err, errPeerClosed):
		code, reason := closeDetails(err)
		s.log.Error("sauc: closed before configuration ack", "close_code", int(code), "reason", reason)
		return s.fail(fmt.Errorf("%w: connection closed before the configuration was acknowledged (status %d %q)", ErrTransport, int(code), reason))
	case errors.Is(err, ErrMalformedFrame):
		s.warn(&DecodeWarning{Stage: "frame", Err: err})
	case err != nil:
		return s.fail(err)
	case ack.Code != 0:
		s.log.Error("sauc: configuration rejected", "code", ack.Code)
		return s.fail(newProtocolError(ack))
	default:
		s.log.Debug("sauc: configuration acknowledged",
			"sequence", ack.Sequence,
			"payload", string(ack.Payload),
		)
	}

	s.setState(StateStreaming)
	return nil
}

// stream runs the pacer, writer and receiver over the open connection and
// returns once all three have exited. emit is called from the receiver for
// every server frame, in arrival order.
func (s *session) stream(ctx context.Context, segments [][]byte, emit func(Response)) error {
	g, gctx := errgroup.WithContext(ctx)
	streamCtx, stop := context.WithCancel(gctx)
	defer stop()

	out := make(chan []byte, outboundBuffer)

	g.Go(func() error {
		defer close(out)
		if s.pacerDone != nil {
			defer s.pacerDone()
		}
		return s.pace(streamCtx, segments, out)
	})
	g.Go(func() error {
		return s.write(streamCtx, out)
	})
	g.Go(func() error {
		// The receiver decides when the stream is over.
		defer stop()
		return s.receive(streamCtx, emit)
	})

	err := g.Wait()
	if err != nil && s.writeErr != nil {
		err = errors.Join(err, s.writeErr)
	}
	// The caller gave up: whatever the receiver saw last, the stream did not finish.
	if ctxErr := ctx.Err(); ctxErr != nil {
		switch {
		case err == nil:
			err = ctxErr
		case !errors.Is(err, ctxErr):
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
	}
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// pace encodes the segments in order and hands them to the writer, waiting
// one segment duration between them. Every non-final segment advances the
// sequence counter; the final one is sent with the current value negated.
func (s *session) pace(ctx context.Context, segments [][]byte, out chan<- []byte) error {
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for i, seg := range segments {
		last := i == len(segments)-1
		frame, err := AudioRequest{Sequence: s.seq, Last: last, Audio: seg}.Encode()
		if err != nil {
			return err
		}
		if !last {
			s.seq++
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
		if last {
			return nil
		}

		timer.Reset(s.cfg.SegmentDuration)
		select {
		case <-timer.C:
		case <-ctx.Done():
			s.log.Debug("sauc: pacing stopped", "sent", i+1, "total", len(segments))
			return nil
		}
	}
	return nil
}

// write is the only goroutine writing to the connection while streaming. A
// failed write breaks the connection, so the receiver observes it and decides
// how the stream ended; write keeps draining so the pacer never blocks.
func (s *session) write(ctx context.Context, in <-chan []byte) error {
	for frame := range in {
		if s.writeErr != nil {
			continue
		}
		if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			if ctx.Err() == nil {
				s.log.Warn("sauc: audio write failed", "err", err)
				s.writeErr = fmt.Errorf("%w: write audio: %w", ErrTransport, err)
			}
			continue
		}
		s.frameSent(AudioOnlyRequest)
	}
	if ctx.Err() == nil && s.writeErr == nil {
		s.setState(StateDraining)
	}
	return nil
}

// receive reads server frames until the last package, a non-zero status code,
// a close frame or a transport failure.
func (s *session) receive(ctx context.Context, emit func(Response)) error {
	for {
		r, err := s.readFrame(ctx)
		switch {
		case errors.Is(err, errPeerClosed):
			code, reason := closeDetails(err)
			if code == websocket.StatusNormalClosure {
				s.log.Info("sauc: service closed the connection", "close_code", int(code), "reason", reason)
			} else {
				s.log.Warn("sauc: service closed the connection", "close_code", int(code), "reason", reason)
			}
			return nil
		case errors.Is(err, ErrMalformedFrame):
			w := &DecodeWarning{Stage: "frame", Err: err}
			s.warn(w)
			emit(Response{Warning: w})
			continue
		case err != nil:
			return err
		}

		if r.Warning != nil {
			s.warn(r.Warning)
		}
		emit(r)

		if r.Code != 0 {
			s.log.Error("sauc: service reported an error", "code", r.Code, "sequence", r.Sequence)
			return newProtocolError(r)
		}
		if r.IsLastPackage {
			s.log.Debug("sauc: last package received", "sequence", r.Sequence)
			return nil
		}
	}
}

// readFrame reads the next binary message under the per-frame timeout and
// decodes it. Text messages are skipped.
func (s *session) readFrame(ctx context.Context) (Response, error) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		typ, data, err := s.conn.Read(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return Response{}, fmt.Errorf("%w: %w", errPeerClosed, err)
			}
			return Response{}, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		if typ != websocket.MessageBinary {
			s.log.Debug("sauc: ignoring text message", "bytes", len(data))
			continue
		}

		r, err := DecodeResponse(data)
		if err != nil {
			return Response{}, err
		}
		if s.hooks.FrameReceived != nil {
			s.hooks.FrameReceived(r)
		}
		return r, nil
	}
}

// closeDetails extracts the close status and reason wrapped in err.
func closeDetails(err error) (websocket.StatusCode, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return websocket.CloseStatus(err), ""
}

func (s *session) frameSent(t MessageType) {
	if s.hooks.FrameSent != nil {
		s.hooks.FrameSent(t)
	}
}

func (s *session) warn(w *DecodeWarning) {
	s.log.Warn("sauc: dropped frame payload", "stage", w.Stage, "err", w.Err)
	if s.hooks.Warning != nil {
		s.hooks.Warning(w)
	}
}

// close releases the connection. A session that completed performs the
// closing handshake; any other is torn down immediately.
func (s *session) close() {
	if s.conn == nil {
		return
	}
	if st := s.State(); st == StateErrored || st == StateClosed {
		_ = s.conn.CloseNow()
		return
	}
	if err := s.conn.Close(websocket.StatusNormalClosure, "recognition complete"); err != nil {
		s.log.Debug("sauc: close handshake", "err", err)
	}
	s.setState(StateClosed)
}

func newProtocolError(r Response) *ProtocolError {
	msg := ""
	if r.Payload != nil {
		if m := gjson.GetBytes(r.Payload, "error"); m.Exists() {
			msg = m.String()
		} else {
			msg = string(r.Payload)
		}
	}
	return &ProtocolError{Code: r.Code, Message: msg}
}
