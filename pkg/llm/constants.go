package llm

// Message roles stored in conversation state. System instructions are never
// stored; they travel in ChatRequest.System.
const (
	RoleHuman     = "human"     // Message written by the end user
	RoleAssistant = "assistant" // Message produced by the model
	RoleTool      = "tool"      // Result of one tool invocation
)

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop     = "stop"      // Normal completion
	StopReasonLength   = "length"    // Output truncated due to token limit
	StopReasonToolCall = "tool_call" // Model stopped to call tools
)

// ContentBlock Type constants define the supported content block formats
// used throughout the message pipeline.
const (
	BlockTypeText     = "text"     // Plain text content
	BlockTypeThinking = "thinking" // Internal reasoning/chain-of-thought
	BlockTypeError    = "error"    // Error raised while producing the message
)

type contextKey string

// DebugDirContextKey carries the sub directory used by StreamDebugger.
const DebugDirContextKey contextKey = "llm_debug_dir"
