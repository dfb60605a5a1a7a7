package adapter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/log"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/step"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// wireConn is the subset of *websocket.Conn the client needs; a real
// connection satisfies it directly, and tests substitute an in-memory fake.
type wireConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// TriggerHandler is the narrow slice of the engine the adapter needs: one
// method per unsolicited VM trigger, per spec.md §6's VM adapter channel
// schema. Defined here (the producer side), the same way step.Evaluator
// and eval's own collaborator interfaces are defined next to their
// callers; engine.Engine satisfies this interface structurally.
type TriggerHandler interface {
	LinkCompilerOutput(sourceRootPath string, result model.CompilationResult)
	LinkContractAddress(contractName string, address common.Address)
	NewContract(code []byte, address common.Address)
	// Step reports one VM instruction. requestID identifies the inbound
	// trigger; the handler calls Client.AckStep(requestID, fastStep) if and
	// only if it decides not to stop the VM here, per spec.md §4.5: "On
	// match... leave the VM paused (do not acknowledge). On miss,
	// acknowledge with fastStep = true."
	Step(requestID string, ev step.Event)
	Exception(message string)
}

// Client is one websocket connection to the VM adapter: it multiplexes
// unsolicited triggers to a TriggerHandler and correlates outbound
// requests to their responses by id, mirroring the pending-call map
// pattern of a typical RPC client.
type Client struct {
	conn    wireConn
	handler TriggerHandler
	logger  log.Logger

	mu      sync.Mutex
	pending map[string]chan Envelope
	nextID  uint64
}

// New returns a client bound to conn and handler. logger may be nil, in
// which case log output is discarded.
func New(conn wireConn, handler TriggerHandler, logger log.Logger) *Client {
	if logger == nil {
		logger = log.New()
		logger.SetHandler(log.DiscardHandler())
	}
	return &Client{
		conn:    conn,
		handler: handler,
		logger:  logger,
		pending: make(map[string]chan Envelope),
	}
}

// Run reads frames until the connection closes or errs, dispatching each to
// either a pending correlation channel (responses) or the TriggerHandler
// (unsolicited requests). It is meant to run in its own goroutine; outbound
// request methods are safe to call concurrently from other goroutines.
func (c *Client) Run() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := jsonAPI.Unmarshal(data, &env); err != nil {
			c.logger.Warn("adapter: malformed frame", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	if env.MessageType == MessageResponse {
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}

	switch env.TriggerType {
	case TriggerLinkCompilerOutput:
		var content linkCompilerOutputContent
		if err := jsonAPI.Unmarshal(env.Content, &content); err != nil {
			c.logger.Warn("adapter: bad linkCompilerOutput content", "err", err)
			return
		}
		c.handler.LinkCompilerOutput(content.SourceRootPath, content.CompilationResult.toModel())

	case TriggerLinkContractAddr:
		var content linkContractAddressContent
		if err := jsonAPI.Unmarshal(env.Content, &content); err != nil {
			c.logger.Warn("adapter: bad linkContractAddress content", "err", err)
			return
		}
		c.handler.LinkContractAddress(content.ContractName, common.HexToAddress(content.Address))

	case TriggerNewContract:
		var content newContractContent
		if err := jsonAPI.Unmarshal(env.Content, &content); err != nil {
			c.logger.Warn("adapter: bad newContract content", "err", err)
			return
		}
		c.handler.NewContract(common.FromHex(content.Code), common.HexToAddress(content.Address))

	case TriggerStep:
		var content stepContent
		if err := jsonAPI.Unmarshal(env.Content, &content); err != nil {
			c.logger.Warn("adapter: bad step content", "err", err)
			return
		}
		ev := step.Event{
			RequestID: env.ID,
			Address:   common.HexToAddress(content.Address),
			PC:        content.PC,
			Stack:     decodeWords(content.Stack),
			Memory:    common.FromHex(content.Memory),
			GasLeft:   content.GasLeft,
		}
		c.handler.Step(env.ID, ev)

	case TriggerException:
		var content exceptionContent
		if err := jsonAPI.Unmarshal(env.Content, &content); err != nil {
			c.logger.Warn("adapter: bad exception content", "err", err)
			return
		}
		c.handler.Exception(content.Message)

	default:
		c.logger.Warn("adapter: unknown trigger type", "type", env.TriggerType)
	}
}

// AckStep acknowledges a step trigger the handler chose not to stop on,
// optionally hinting the VM may batch-skip intermediate line-unchanged
// instructions.
func (c *Client) AckStep(requestID string, fastStep bool) error {
	return c.writeEnvelope(Envelope{
		ID:          requestID,
		MessageType: MessageResponse,
		Content:     mustMarshal(ackStepContent{FastStep: fastStep}),
	})
}

// InjectCode issues injectNewCode and blocks for the VM's acknowledgement,
// satisfying eval.Injector.
func (c *Client) InjectCode(address common.Address, runtimeCode []byte, pc uint64) {
	_, err := c.request(RequestInjectNewCode, injectNewCodeContent{
		Code: common.ToHex(runtimeCode),
		PC:   pc,
	}, addressToHex(address))
	if err != nil {
		c.logger.Error("adapter: injectNewCode failed", "address", address, "err", err)
	}
}

// RunUntilPc issues runUntilPc and blocks for the VM's acknowledgement.
func (c *Client) RunUntilPc(stepID string, pc uint64) error {
	_, err := c.request(RequestRunUntilPc, runUntilPcContent{StepID: stepID, PC: pc}, "")
	return err
}

// GetStorage issues getStorage and blocks for the VM's response, satisfying
// decode.StorageFetcher.
func (c *Client) GetStorage(slot common.Word) (common.Word, error) {
	// decode.StorageFetcher's contract does not carry an address, so this
	// always queries the zero address; callers needing a specific
	// contract's storage use GetStorageAt directly.
	return c.GetStorageAt(common.Address{}, slot)
}

// GetStorageAt issues getStorage against a specific contract address.
func (c *Client) GetStorageAt(address common.Address, slot common.Word) (common.Word, error) {
	env, err := c.request(RequestGetStorage, getStorageContent{
		Address:  addressToHex(address),
		Position: wordToHex(slot),
	}, "")
	if err != nil {
		return common.Word{}, err
	}
	var resp getStorageResponseContent
	if err := jsonAPI.Unmarshal(env.Content, &resp); err != nil {
		return common.Word{}, fmt.Errorf("adapter: decoding getStorage response: %w", err)
	}
	return common.HexToWord(resp.Value), nil
}

// SendBreakpoint notifies the VM of a breakpoint's (address, pc, enabled,
// runtime) state, satisfying breakpoint.Sender's wire half. It is
// fire-and-forget: the registry does not need the VM's acknowledgement to
// consider a breakpoint installed.
func (c *Client) SendBreakpoint(id int, address common.Address, pc uint64, enabled, isRuntime bool) {
	c.notify(RequestSendBreakpoint, sendBreakpointContent{
		ID: id, Address: addressToHex(address), PC: pc, Enabled: enabled, Runtime: isRuntime,
	})
}

// Declaration is one variable declaration sent to the VM for display
// purposes after a contract links.
type Declaration struct {
	Name     string
	Type     string
	Location string
}

// SendDeclarations notifies the VM of a contract's variable declarations.
func (c *Client) SendDeclarations(address common.Address, decls []Declaration) {
	wire := make([]declarationWire, len(decls))
	for i, d := range decls {
		wire[i] = declarationWire{Name: d.Name, Type: d.Type, Location: d.Location}
	}
	c.notify(RequestSendDeclarations, sendDeclarationsContent{Address: addressToHex(address), Declarations: wire})
}

// SendJumpDestinations notifies the VM of a contract's function entry pcs.
func (c *Client) SendJumpDestinations(address common.Address, pcs []uint64) {
	c.notify(RequestSendJumpDestinations, sendJumpDestinationsContent{Address: addressToHex(address), JumpDestinations: pcs})
}

// request sends a correlated outbound request and blocks for its response,
// which Run delivers. The third argument is ignored: InjectCode passes the
// target address there, but it is neither sent nor logged.
func (c *Client) request(requestType string, content interface{}, _ string) (Envelope, error) {
	id := c.newID()
	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	env := Envelope{ID: id, MessageType: MessageRequest, Content: mustMarshal(content), TriggerType: requestType}
	if err := c.writeEnvelope(env); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return Envelope{}, err
	}

	resp := <-ch
	if resp.Error != "" {
		return resp, fmt.Errorf("adapter: %s: %s", requestType, resp.Error)
	}
	return resp, nil
}

// notify sends a fire-and-forget outbound request with a fresh id and does
// not wait for (or register a channel for) any response.
func (c *Client) notify(requestType string, content interface{}) {
	env := Envelope{ID: c.newID(), MessageType: MessageRequest, Content: mustMarshal(content), TriggerType: requestType}
	if err := c.writeEnvelope(env); err != nil {
		c.logger.Error("adapter: notify failed", "type", requestType, "err", err)
	}
}

func (c *Client) writeEnvelope(env Envelope) error {
	data, err := jsonAPI.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) newID() string {
	n := atomic.AddUint64(&c.nextID, 1)
	return fmt.Sprintf("adapter-%d", n)
}
