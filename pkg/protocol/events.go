package protocol

import "encoding/json"

// Frame types on the wire (spec §6). Every frame is a JSON object tagged
// by "type"; "id" correlates a response/stream frame back to the request
// that triggered it.
const (
	FrameRequest     = "request"
	FrameResponse    = "response"
	FrameStreamChunk = "stream_chunk"
	FrameToolCall    = "tool_call"
	FrameToolDenied  = "tool_denied"
	FrameError       = "error"
)

// RPC-boundary error codes (spec §6/§7).
const (
	ErrCodeSessionBusy          = "SESSION_BUSY"
	ErrCodeBudgetExceeded       = "BUDGET_EXCEEDED"
	ErrCodeProviderNotAvailable = "PROVIDER_NOT_AVAILABLE"
	ErrCodeSessionFenced        = "SESSION_FENCED"
	ErrCodeMethodNotFound       = "METHOD_NOT_FOUND"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeModeDenied           = "MODE_DENIED"
	ErrCodeUnknownTool          = "UNKNOWN_TOOL"
	ErrCodeInvalidArgs          = "INVALID_ARGS"
	ErrCodeGuardAnchorMissing   = "GUARD_ANCHOR_MISSING"
)

// Request is one inbound frame from a channel adapter over the framed
// transport.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ChatSendParams is Request.Params for MethodChatSend.
type ChatSendParams struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Provider  string `json:"provider,omitempty"`
}

// ChatHistoryParams is Request.Params for MethodChatHistory.
type ChatHistoryParams struct {
	SessionID string `json:"session_id"`
}

// StreamChunk carries one fragment of streamed assistant text.
type StreamChunk struct {
	Type string          `json:"type"`
	ID   string           `json:"id"`
	Data StreamChunkData `json:"data"`
}

// StreamChunkData is StreamChunk.Data.
type StreamChunkData struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ToolCallFrame announces a tool call the model requested, before it runs.
type ToolCallFrame struct {
	Type string            `json:"type"`
	ID   string            `json:"id"`
	Data ToolCallFrameData `json:"data"`
}

// ToolCallFrameData is ToolCallFrame.Data.
type ToolCallFrameData struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	CallID    string                 `json:"call_id"`
}

// ToolDeniedFrame announces a tool call blocked by the mode gate or the
// guardrail, instead of executed.
type ToolDeniedFrame struct {
	Type string              `json:"type"`
	ID   string              `json:"id"`
	Data ToolDeniedFrameData `json:"data"`
}

// ToolDeniedFrameData is ToolDeniedFrame.Data.
type ToolDeniedFrameData struct {
	CallID     string `json:"call_id"`
	ToolName   string `json:"tool_name"`
	Mode       string `json:"mode"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	NextAction string `json:"next_action"`
}

// ErrorFrame is a terminal error response to a Request.
type ErrorFrame struct {
	Type  string     `json:"type"`
	ID    string     `json:"id"`
	Error ErrorBody  `json:"error"`
}

// ErrorBody is ErrorFrame.Error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame builds an ErrorFrame correlated to id.
func NewErrorFrame(id, code, message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, ID: id, Error: ErrorBody{Code: code, Message: message}}
}

// ResponseFrame carries a non-streaming method's result (e.g.
// chat.history). Not named explicitly by spec §6's envelope list, which
// focuses on the chat.send streaming path; added so request/response
// methods have a frame to reply with (see DESIGN.md).
type ResponseFrame struct {
	Type string      `json:"type"`
	ID   string      `json:"id"`
	Data interface{} `json:"data"`
}

// NewResponseFrame builds a ResponseFrame correlated to id.
func NewResponseFrame(id string, data interface{}) ResponseFrame {
	return ResponseFrame{Type: FrameResponse, ID: id, Data: data}
}

// ChatHistoryMessage is one entry in a chat.history ResponseFrame's Data.
type ChatHistoryMessage struct {
	Seq     int64  `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
}
