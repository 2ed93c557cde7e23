package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/live"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/internal/session"
)

// Observer commands.
const (
	CmdStart      = "start"
	CmdStop       = "stop"
	CmdFrame      = "frame"
	CmdAudio      = "audio"
	CmdAudioStart = "audio_start"
	CmdAudioStop  = "audio_stop"
	CmdCapture    = "capture"
)

// Control replies sent alongside pipeline events.
const (
	ReplySessionStarted = "session_started"
	ReplyStatus         = "status"
	ReplyError          = "error"
)

// Command is one observer request. Data carries base64 encoded frame or
// audio bytes.
type Command struct {
	Type       string       `json:"type"`
	Mode       session.Mode `json:"mode,omitempty"`
	SourceLang string       `json:"source_lang,omitempty"`
	TargetLang string       `json:"target_lang,omitempty"`
	Media      string       `json:"media,omitempty"`
	Ref        string       `json:"ref,omitempty"`
	Data       []byte       `json:"data,omitempty"`
}

// Reply is a control message. Processing is the frame backpressure flag: it
// is true while a submitted frame is in flight.
type Reply struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Processing *bool  `json:"processing,omitempty"`
	Message    string `json:"message,omitempty"`
}

// handleWS upgrades the request and serves one observer until it disconnects.
// A session started over the connection is stopped when it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Warn("transport: websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	o := &observer{
		srv:   s,
		conn:  conn,
		dedup: s.newDedup(),
		out:   make(chan any, 64),
	}
	o.run(r.Context())
}

// observer is the state of one connection. Commands are handled on the read
// goroutine; a single writer goroutine owns the socket for writes.
type observer struct {
	srv   *Server
	conn  *websocket.Conn
	dedup *Dedup
	out   chan any

	// forwarders drain event channels into out.
	forwarders sync.WaitGroup

	mu        sync.Mutex
	sessionID string
	live      LiveSession
	// terminated holds the sessions that already got their terminal event.
	terminated map[string]struct{}
}

func (o *observer) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	log := observe.Logger(ctx)

	metrics := o.srv.metrics
	metrics.ActiveObservers.Add(ctx, 1)
	defer metrics.ActiveObservers.Add(context.WithoutCancel(ctx), -1)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		o.writeLoop(ctx)
	}()

	for {
		var cmd Command
		if err := wsjson.Read(ctx, o.conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug("transport: observer read", "err", err)
			}
			break
		}
		o.handle(ctx, cmd)
	}

	// The observer is gone: stop writing, then stop its session.
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(parent), stopTimeout)
	o.stopSession(stopCtx, false)
	stopCancel()

	o.forwarders.Wait()
	<-writerDone
	o.conn.Close(websocket.StatusNormalClosure, "")
}

func (o *observer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.out:
			wctx, cancel := context.WithTimeout(ctx, o.srv.writeTimeout)
			err := wsjson.Write(wctx, o.conn, msg)
			cancel()
			if err != nil {
				observe.Logger(ctx).Debug("transport: observer write", "err", err)
				o.conn.CloseNow()
				return
			}
		}
	}
}

// enqueue hands msg to the writer unless the connection is gone.
func (o *observer) enqueue(ctx context.Context, msg any) bool {
	select {
	case o.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *observer) reply(ctx context.Context, r Reply) {
	o.enqueue(ctx, r)
}

func (o *observer) fail(ctx context.Context, msg string) {
	o.reply(ctx, Reply{Type: ReplyError, Message: msg})
}

// forward drains ch into the writer, stamping the session id and applying
// the dedup policy. It keeps draining after the observer left so that
// producers are never blocked. done runs once, before a terminal event is
// handed to the writer or else when ch is closed.
func (o *observer) forward(ctx context.Context, sessionID string, ch <-chan event.Event, done func()) {
	o.forwarders.Add(1)
	go func() {
		defer o.forwarders.Done()
		var once sync.Once
		finish := func() {
			if done != nil {
				once.Do(done)
			}
		}
		defer finish()

		for ev := range ch {
			if ev.Transcript != nil && !o.dedup.Allow(ev.Transcript) {
				o.srv.metrics.EventsSuppressed.Add(ctx, 1)
				continue
			}
			if ev.Kind.Terminal() {
				finish()
				o.terminate(ctx, sessionID, ev)
				continue
			}
			ev.SessionID = sessionID
			o.enqueue(ctx, ev)
		}
	}()
}

func (o *observer) handle(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdStart:
		o.start(ctx, cmd)
	case CmdStop:
		if !o.stopSession(ctx, true) {
			o.fail(ctx, "no active session")
		}
	case CmdFrame:
		o.frame(ctx, cmd.Data)
	case CmdAudioStart:
		if ls, ok := o.liveSession(ctx); ok {
			if err := ls.StartAudio(); err != nil {
				o.fail(ctx, err.Error())
			}
		}
	case CmdAudioStop:
		if ls, ok := o.liveSession(ctx); ok {
			ls.StopAudio()
		}
	case CmdAudio:
		o.audio(ctx, cmd.Data)
	case CmdCapture:
		o.capture(ctx, cmd.Ref)
	default:
		o.fail(ctx, "unknown command "+cmd.Type)
	}
}

func (o *observer) start(ctx context.Context, cmd Command) {
	o.mu.Lock()
	active := o.sessionID != ""
	o.mu.Unlock()
	if active {
		o.fail(ctx, "a session is already running on this connection")
		return
	}

	req := session.Request{Mode: cmd.Mode, SourceLang: cmd.SourceLang, TargetLang: cmd.TargetLang, Media: cmd.Media}
	switch req.Mode {
	case session.ModeFile:
		id, events, err := o.srv.sessions.StartFile(ctx, req)
		if err != nil {
			if id != "" && errors.Is(err, pipeline.ErrSourceOpen) {
				o.terminate(ctx, id, event.Failed(err.Error()))
				return
			}
			o.fail(ctx, err.Error())
			return
		}
		o.setSession(id, nil)
		o.reply(ctx, Reply{Type: ReplySessionStarted, SessionID: id, Mode: string(req.Mode)})
		o.forward(ctx, id, events, func() { o.clearSession(id) })
	case session.ModeLive:
		id, ls, err := o.srv.sessions.StartLive(ctx, req)
		if err != nil {
			o.fail(ctx, err.Error())
			return
		}
		o.setSession(id, ls)
		o.reply(ctx, Reply{Type: ReplySessionStarted, SessionID: id, Mode: string(req.Mode)})
	default:
		o.fail(ctx, "unknown mode "+string(req.Mode))
	}
}

// stopSession stops the connection's session, if any. When notify is set a
// stopped live session is acknowledged with processing_complete; a file
// session always delivers its own terminal event. A session never gets more
// than one terminal event.
func (o *observer) stopSession(ctx context.Context, notify bool) bool {
	o.mu.Lock()
	id, ls := o.sessionID, o.live
	o.sessionID, o.live = "", nil
	o.mu.Unlock()
	if id == "" {
		return false
	}

	if err := o.srv.sessions.Stop(ctx, id); err != nil && !errors.Is(err, session.ErrNotFound) {
		observe.Logger(ctx).Warn("transport: stop session", "session_id", id, "err", err)
	}
	if notify && ls != nil {
		o.terminate(ctx, id, event.Complete())
	}
	return true
}

// terminate sends ev as the terminal event of session id unless that session
// already got one.
func (o *observer) terminate(ctx context.Context, id string, ev event.Event) {
	o.mu.Lock()
	_, sent := o.terminated[id]
	if !sent {
		if o.terminated == nil {
			o.terminated = make(map[string]struct{})
		}
		o.terminated[id] = struct{}{}
	}
	o.mu.Unlock()
	if sent {
		return
	}
	ev.SessionID = id
	o.enqueue(ctx, ev)
}

func (o *observer) frame(ctx context.Context, data []byte) {
	ls, ok := o.liveSession(ctx)
	if !ok {
		return
	}
	id := o.currentID()
	events, err := ls.SubmitFrame(ctx, data)
	if errors.Is(err, live.ErrFrameInFlight) {
		o.reply(ctx, Reply{Type: ReplyStatus, SessionID: id, Processing: ptr(true)})
		return
	}
	if err != nil {
		o.fail(ctx, err.Error())
		return
	}
	o.reply(ctx, Reply{Type: ReplyStatus, SessionID: id, Processing: ptr(true)})
	o.forward(ctx, id, events, func() {
		o.reply(ctx, Reply{Type: ReplyStatus, SessionID: id, Processing: ptr(false)})
	})
}

func (o *observer) audio(ctx context.Context, data []byte) {
	ls, ok := o.liveSession(ctx)
	if !ok {
		return
	}
	events, err := ls.SubmitAudio(ctx, data)
	if errors.Is(err, live.ErrChunkTooSmall) {
		return
	}
	if err != nil {
		o.fail(ctx, err.Error())
		return
	}
	o.forward(ctx, o.currentID(), events, nil)
}

func (o *observer) capture(ctx context.Context, ref string) {
	ls, ok := o.liveSession(ctx)
	if !ok {
		return
	}
	events, err := ls.StartCapture(ctx, ref)
	if err != nil {
		o.fail(ctx, err.Error())
		return
	}
	o.forward(ctx, o.currentID(), events, nil)
}

// liveSession returns the connection's live session or replies with an
// error.
func (o *observer) liveSession(ctx context.Context) (LiveSession, bool) {
	o.mu.Lock()
	ls := o.live
	o.mu.Unlock()
	if ls == nil {
		o.fail(ctx, "no live session")
		return nil, false
	}
	return ls, true
}

func (o *observer) setSession(id string, ls LiveSession) {
	o.mu.Lock()
	o.sessionID, o.live = id, ls
	delete(o.terminated, id)
	o.mu.Unlock()
}

func (o *observer) clearSession(id string) {
	o.mu.Lock()
	if o.sessionID == id {
		o.sessionID, o.live = "", nil
	}
	o.mu.Unlock()
}

func (o *observer) currentID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func ptr[T any](v T) *T { return &v }
