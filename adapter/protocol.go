// Package adapter implements the VM adapter protocol (C7): a framed-JSON
// request/response correlation layer over a persistent connection to the
// instrumented VM, plus the typed trigger events the VM pushes
// unsolicited (step, exception, linkCompilerOutput, ...).
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/model"
	jsoniter "github.com/json-iterator/go"
)

// MessageType is the envelope's messageType field.
type MessageType string

const (
	MessageRequest  MessageType = "request"
	MessageResponse MessageType = "response"
)

// TriggerType enumerates both directions' typed payloads: the VM's
// unsolicited triggers and the engine's own outbound request kinds, per
// spec.md §6's VM adapter channel schema.
const (
	TriggerLinkCompilerOutput = "linkCompilerOutput"
	TriggerLinkContractAddr   = "linkContractAddress"
	TriggerNewContract        = "newContract"
	TriggerStep               = "step"
	TriggerException          = "exception"

	RequestInjectNewCode         = "injectNewCode"
	RequestRunUntilPc            = "runUntilPc"
	RequestGetStorage            = "getStorage"
	RequestSendBreakpoint        = "sendBreakpoint"
	RequestSendDeclarations      = "sendDeclarations"
	RequestSendJumpDestinations  = "sendJumpDestinations"
)

// Envelope is the wire frame exchanged in both directions: `{ id,
// messageType, content, triggerType? }`.
type Envelope struct {
	ID          string          `json:"id"`
	MessageType MessageType     `json:"messageType"`
	Content     json.RawMessage `json:"content"`
	TriggerType string          `json:"triggerType,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// --- inbound trigger payloads -------------------------------------------

type linkCompilerOutputContent struct {
	SourceRootPath    string               `json:"sourceRootPath"`
	CompilationResult compilationResultWire `json:"compilationResult"`
}

type linkContractAddressContent struct {
	ContractName string `json:"contractName"`
	Address      string `json:"address"`
}

type newContractContent struct {
	Code    string `json:"code"`
	Address string `json:"address"`
}

type stepContent struct {
	Address string   `json:"address"`
	PC      uint64   `json:"pc"`
	Stack   []string `json:"stack"`
	Memory  string   `json:"memory"`
	GasLeft uint64   `json:"gasLeft"`
	Opcode  string   `json:"opcode"`
}

type exceptionContent struct {
	Message string `json:"message"`
}

// --- outbound request payloads ------------------------------------------

type injectNewCodeContent struct {
	Code  string `json:"code"`
	PC    uint64 `json:"pc"`
	State string `json:"state,omitempty"`
}

type runUntilPcContent struct {
	StepID string `json:"stepId"`
	PC     uint64 `json:"pc"`
}

type getStorageContent struct {
	Address  string `json:"address"`
	Position string `json:"position"`
}

type getStorageResponseContent struct {
	Value string `json:"value"`
}

type sendBreakpointContent struct {
	ID      int    `json:"id"`
	Address string `json:"address"`
	PC      uint64 `json:"pc"`
	Enabled bool   `json:"enabled"`
	Runtime bool   `json:"runtime"`
}

type declarationWire struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

type sendDeclarationsContent struct {
	Address      string            `json:"address"`
	Declarations []declarationWire `json:"declarations"`
}

type sendJumpDestinationsContent struct {
	Address          string   `json:"address"`
	JumpDestinations []uint64 `json:"jumpDestinations"`
}

type ackStepContent struct {
	FastStep bool `json:"fastStep"`
}

// --- AST / compilation-result wire DTOs ----------------------------------

// astNodeWire mirrors ast.Node with explicit wire field names, decoded
// independently of the ast package so that package stays a generic,
// JSON-agnostic tree model.
type astNodeWire struct {
	ID         int                    `json:"id"`
	Name       string                 `json:"name"`
	Start      int                    `json:"start"`
	Length     int                    `json:"length"`
	File       int                    `json:"file"`
	Attributes map[string]interface{} `json:"attributes"`
	Children   []astNodeWire          `json:"children"`
}

func (w astNodeWire) toNode() *ast.Node {
	children := make([]*ast.Node, len(w.Children))
	for i, c := range w.Children {
		children[i] = c.toNode()
	}
	return &ast.Node{
		ID:         w.ID,
		Name:       w.Name,
		Start:      w.Start,
		Length:     w.Length,
		File:       w.File,
		Attributes: w.Attributes,
		Children:   children,
	}
}

type contractWire struct {
	Name             string      `json:"name"`
	SourcePath       string      `json:"sourcePath"`
	CreationCode     string      `json:"creationCode"`
	RuntimeCode      string      `json:"runtimeCode"`
	SourceMapRuntime string      `json:"sourceMapRuntime"`
	AST              astNodeWire `json:"ast"`
}

func (w contractWire) toModel() model.CompiledContract {
	return model.CompiledContract{
		Name:             w.Name,
		SourcePath:       w.SourcePath,
		CreationCode:     common.FromHex(w.CreationCode),
		RuntimeCode:      common.FromHex(w.RuntimeCode),
		SourceMapRuntime: w.SourceMapRuntime,
		AST:              w.AST.toNode(),
	}
}

type compilationResultWire struct {
	Contracts []contractWire    `json:"contracts"`
	Sources   map[string]string `json:"sources"`
}

func (w compilationResultWire) toModel() model.CompilationResult {
	contracts := make([]model.CompiledContract, len(w.Contracts))
	for i, c := range w.Contracts {
		contracts[i] = c.toModel()
	}
	sources := make(map[string][]byte, len(w.Sources))
	for path, hexSrc := range w.Sources {
		sources[path] = common.FromHex(hexSrc)
	}
	return model.CompilationResult{Contracts: contracts, Sources: sources}
}

// decodeWords converts the hex-encoded stack slice of a step trigger into
// common.Word values.
func decodeWords(hexWords []string) []common.Word {
	out := make([]common.Word, len(hexWords))
	for i, h := range hexWords {
		out[i] = common.HexToWord(h)
	}
	return out
}

func wordToHex(w common.Word) string { return w.Hex() }

func addressToHex(a common.Address) string { return a.Hex() }

func mustMarshal(v interface{}) json.RawMessage {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		// Every content type here is a plain struct of strings/ints/bools;
		// a marshal failure indicates a programming error, not a runtime
		// condition callers should recover from.
		panic(fmt.Sprintf("adapter: marshal %T: %v", v, err))
	}
	return b
}
