package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SeesePlusPlus/velma/log"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// pingTimeout is the 1-second ping deadline spec.md §5 specifies.
const pingTimeout = 1 * time.Second

// wireConn is the subset of *websocket.Conn Session needs; tests
// substitute an in-memory fake.
type wireConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// envelope is the UI client channel's wire frame: `{ id, isRequest, type,
// content, error? }`.
type envelope struct {
	ID        string          `json:"id"`
	IsRequest bool            `json:"isRequest"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Error     string          `json:"error,omitempty"`
}

// --- request content ------------------------------------------------------

type startContent struct {
	StopOnEntry bool `json:"stopOnEntry"`
}

type clearBreakpointsContent struct {
	Path string `json:"path"`
}

type setBreakpointContent struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

type stackContent struct {
	StartFrame int `json:"startFrame"`
	EndFrame   int `json:"endFrame"`
}

type variablesContent struct {
	VariablesReference int `json:"variablesReference"`
}

type uiActionContent struct {
	Action string `json:"action"`
}

type evaluateContent struct {
	Expression string `json:"expression"`
	Context    string `json:"context"`
	FrameID    int    `json:"frameId"`
}

// --- response content ------------------------------------------------------

type frameWire struct {
	Name       string `json:"name"`
	SourceFile string `json:"sourceFile"`
	Line       int    `json:"line"`
	PC         uint64 `json:"pc"`
}

type stackResponseContent struct {
	Frames []frameWire `json:"frames"`
}

type variableWire struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	VariablesReference int    `json:"variablesReference"`
}

type variablesResponseContent struct {
	Variables []variableWire `json:"variables"`
}

type breakpointWire struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Verified bool   `json:"verified"`
}

type evaluateResponseContent struct {
	Result string `json:"result"`
}

type eventContent struct {
	Event string        `json:"event"`
	Args  []interface{} `json:"args"`
}

// Session is one UI client connection: it dispatches inbound requests to
// Commands, and is itself the EventSink the engine pushes stopOn*/
// breakpointValidated/end events through.
type Session struct {
	conn   wireConn
	cmds   Commands
	logger log.Logger

	mu           sync.Mutex
	pendingPings map[string]func(bool)
}

// New returns a session bound to conn and cmds. logger may be nil, in
// which case log output is discarded.
func New(conn wireConn, cmds Commands, logger log.Logger) *Session {
	if logger == nil {
		logger = log.New()
		logger.SetHandler(log.DiscardHandler())
	}
	return &Session{conn: conn, cmds: cmds, logger: logger, pendingPings: make(map[string]func(bool))}
}

// Run reads frames until the connection closes or errs, dispatching each
// inbound request to Commands and each inbound ping response to its
// waiting callback. It is meant to run in its own goroutine.
func (s *Session) Run() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		var env envelope
		if err := jsonAPI.Unmarshal(data, &env); err != nil {
			s.logger.Warn("facade: malformed frame", "err", err)
			continue
		}
		if env.IsRequest {
			s.dispatch(env)
			continue
		}
		if env.Type == "ping" {
			s.evictPing(env.ID, true)
		}
	}
}

func (s *Session) dispatch(env envelope) {
	var (
		respContent interface{}
		err         error
	)

	switch env.Type {
	case "start":
		var c startContent
		err = jsonAPI.Unmarshal(env.Content, &c)
		if err == nil {
			err = s.cmds.Start(c.StopOnEntry)
		}

	case "clearBreakpoints":
		var c clearBreakpointsContent
		err = jsonAPI.Unmarshal(env.Content, &c)
		if err == nil {
			err = s.cmds.ClearBreakpoints(c.Path)
		}

	case "setBreakpoint":
		var c setBreakpointContent
		if err = jsonAPI.Unmarshal(env.Content, &c); err == nil {
			var bp *model.Breakpoint
			bp, err = s.cmds.SetBreakpoint(c.Path, c.Line)
			if err == nil {
				respContent = breakpointWire{ID: bp.ID, Path: bp.Path, Line: bp.Line, Verified: bp.Verified}
			}
		}

	case "stack":
		var c stackContent
		if err = jsonAPI.Unmarshal(env.Content, &c); err == nil {
			var frames []model.StackFrame
			frames, err = s.cmds.Stack(c.StartFrame, c.EndFrame)
			if err == nil {
				wire := make([]frameWire, len(frames))
				for i, f := range frames {
					wire[i] = frameWire{Name: f.FunctionName, SourceFile: f.SourceFile, Line: f.Line, PC: f.PC}
				}
				respContent = stackResponseContent{Frames: wire}
			}
		}

	case "variables":
		var c variablesContent
		if err = jsonAPI.Unmarshal(env.Content, &c); err == nil {
			var vars []Variable
			vars, err = s.cmds.Variables(c.VariablesReference)
			if err == nil {
				wire := make([]variableWire, len(vars))
				for i, v := range vars {
					wire[i] = variableWire{Name: v.Name, Value: v.Value, VariablesReference: v.VariablesReference}
				}
				respContent = variablesResponseContent{Variables: wire}
			}
		}

	case "uiAction":
		var c uiActionContent
		if err = jsonAPI.Unmarshal(env.Content, &c); err == nil {
			err = s.runAction(c.Action)
		}

	case "evaluate":
		var c evaluateContent
		if err = jsonAPI.Unmarshal(env.Content, &c); err == nil {
			var result string
			result, err = s.cmds.Evaluate(c.Expression, c.Context, c.FrameID)
			if err == nil {
				respContent = evaluateResponseContent{Result: result}
			}
		}

	case "ping":
		// The UI client may also ping us; nothing to compute, just ack.

	default:
		err = fmt.Errorf("facade: unknown request type %q", env.Type)
	}

	resp := envelope{ID: env.ID, IsRequest: false, Type: env.Type}
	if err != nil {
		resp.Error = err.Error()
	} else if respContent != nil {
		resp.Content = mustMarshal(respContent)
	}
	if writeErr := s.writeEnvelope(resp); writeErr != nil {
		s.logger.Error("facade: writing response failed", "type", env.Type, "err", writeErr)
	}
}

func (s *Session) runAction(action string) error {
	switch action {
	case "continue":
		return s.cmds.Continue()
	case "continueReverse":
		return s.cmds.ContinueReverse()
	case "stepOver":
		return s.cmds.StepOver()
	case "stepBack":
		return s.cmds.StepBack()
	case "stepIn":
		return s.cmds.StepIn()
	case "stepOut":
		return s.cmds.StepOut()
	default:
		return fmt.Errorf("facade: unknown uiAction %q", action)
	}
}

// Emit satisfies EventSink: it frames event as a server-initiated request
// (`type="event"`, `content={event, args}`) and writes it to the UI
// client. Per spec.md §6, server-initiated messages carry their own
// fresh id; the client never responds to one.
func (s *Session) Emit(event string, args ...interface{}) {
	if args == nil {
		args = []interface{}{}
	}
	env := envelope{
		ID:        uuid.New().String(),
		IsRequest: true,
		Type:      "event",
		Content:   mustMarshal(eventContent{Event: event, Args: args}),
	}
	if err := s.writeEnvelope(env); err != nil {
		s.logger.Error("facade: emitting event failed", "event", event, "err", err)
	}
}

// Ping issues a ping to the UI client and calls cb once: with true if a
// ping response arrives within one second, false otherwise. Grounded on
// spec.md §5's "ping callback fires with false [on timeout]" — implemented
// with context.WithTimeout to bound the wait and time.AfterFunc to evict
// the pending callback if no response arrives, rather than a bare
// goroutine+sleep.
func (s *Session) Ping(cb func(ok bool)) {
	id := uuid.New().String()
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)

	s.mu.Lock()
	s.pendingPings[id] = func(ok bool) {
		cancel()
		cb(ok)
	}
	s.mu.Unlock()

	if err := s.writeEnvelope(envelope{ID: id, IsRequest: true, Type: "ping"}); err != nil {
		s.evictPing(id, false)
		return
	}

	time.AfterFunc(pingTimeout, func() {
		if ctx.Err() != context.Canceled {
			s.evictPing(id, false)
		}
	})
}

func (s *Session) evictPing(id string, ok bool) {
	s.mu.Lock()
	cb, found := s.pendingPings[id]
	delete(s.pendingPings, id)
	s.mu.Unlock()
	if found {
		cb(ok)
	}
}

func (s *Session) writeEnvelope(env envelope) error {
	data, err := jsonAPI.Marshal(env)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("facade: marshal %T: %v", v, err))
	}
	return b
}
