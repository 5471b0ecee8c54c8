package protocol

// RPC method name constants the gateway transport dispatches on (spec §6).
const (
	// MethodChatSend runs one chat turn: {content, session_id, provider?}.
	MethodChatSend = "chat.send"
	// MethodChatHistory returns a session's stored message history:
	// {session_id}.
	MethodChatHistory = "chat.history"
)
