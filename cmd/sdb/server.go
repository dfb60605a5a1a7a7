package main

import (
	"context"
	"net/http"

	"github.com/SeesePlusPlus/velma/adapter"
	"github.com/SeesePlusPlus/velma/breakpoint"
	"github.com/SeesePlusPlus/velma/compiler"
	"github.com/SeesePlusPlus/velma/decode"
	"github.com/SeesePlusPlus/velma/engine"
	"github.com/SeesePlusPlus/velma/eval"
	"github.com/SeesePlusPlus/velma/facade"
	"github.com/SeesePlusPlus/velma/log"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/step"
	"github.com/gorilla/websocket"
)

// server accepts VM adapter and UI client websocket connections and pairs
// them, one of each, into an independent debug session. Several sessions
// may be live at once: every VM/UI pair gets its own program model and
// engine, so debugging two contracts concurrently needs nothing more than
// two VM connections and two UI connections.
type server struct {
	compiler *compiler.Solidity
	logger   log.Logger

	vmConns chan *websocket.Conn
	uiConns chan *websocket.Conn
}

func newServer(solidity *compiler.Solidity, logger log.Logger) *server {
	return &server{
		compiler: solidity,
		logger:   logger,
		vmConns:  make(chan *websocket.Conn),
		uiConns:  make(chan *websocket.Conn),
	}
}

func (s *server) handleVM(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("vm adapter upgrade failed", "err", err)
		return
	}
	s.vmConns <- conn
}

func (s *server) handleUI(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ui client upgrade failed", "err", err)
		return
	}
	s.uiConns <- conn
}

// pairLoop is the one goroutine that owns the pending-connection state,
// the same single-writer shape engine.Engine's own dispatch loop uses to
// avoid a mutex: a half-paired connection is never touched by more than
// one goroutine at a time.
func (s *server) pairLoop() {
	var pendingVM, pendingUI *websocket.Conn
	for {
		select {
		case conn := <-s.vmConns:
			pendingVM = conn
		case conn := <-s.uiConns:
			pendingUI = conn
		}
		if pendingVM != nil && pendingUI != nil {
			go s.runSession(pendingVM, pendingUI)
			pendingVM, pendingUI = nil, nil
		}
	}
}

// runSession wires one complete engine around a paired VM adapter
// connection and UI client connection, following the construct-with-nil,
// build-collaborators, backfill-with-setters sequence engine_test.go's
// own helpers use to break the three-way circular dependency between the
// engine, the breakpoint registry, and the evaluator.
func (s *server) runSession(vmConn, uiConn *websocket.Conn) {
	logger := s.logger.New("session", vmConn.RemoteAddr().String())
	defer vmConn.Close()
	defer uiConn.Close()

	// program's struct resolver needs the very *model.Program it will be
	// installed on, so the pointer is captured by a closure before it is
	// assigned; the closure is never invoked until IndexVariables runs,
	// well after NewProgram has returned.
	var program *model.Program
	resolver := func(contract, name string) ([]decode.StructField, error) {
		return model.StructResolverFromProgram(program)(contract, name)
	}
	program = model.NewProgram(resolver)

	eng := engine.New(program, nil, nil, nil, nil, nil, logger)

	registry := breakpoint.New(program, eng)
	eng.SetRegistry(registry)

	evalr := eval.New(program, s.compiler, eng, eng)
	eng.SetEvaluator(evalr)

	stepEng := step.New(program, evalr)
	eng.SetStepEngine(stepEng)

	vmClient := adapter.New(vmConn, eng, logger)
	eng.SetVM(vmClient)

	uiSession := facade.New(uiConn, eng, logger)
	eng.SetEventSink(uiSession)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := eng.Run(ctx); err != nil {
			logger.Warn("engine stopped", "err", err)
		}
	}()

	vmDone := make(chan error, 1)
	go func() { vmDone <- vmClient.Run() }()

	uiDone := make(chan error, 1)
	go func() { uiDone <- uiSession.Run() }()

	// A UI disconnect ends that client's view of the session but must not
	// tear down the VM adapter underneath it: the VM keeps stepping (and
	// the engine keeps dispatching) whether or not anyone is watching.
	select {
	case err := <-vmDone:
		eng.HandleAdapterDisconnect(err)
		logger.Info("vm adapter disconnected, ending session", "err", err)
		return
	case err := <-uiDone:
		logger.Info("ui client disconnected, vm adapter session continues", "err", err)
	}

	err := <-vmDone
	eng.HandleAdapterDisconnect(err)
	logger.Info("vm adapter disconnected, ending session", "err", err)
}
