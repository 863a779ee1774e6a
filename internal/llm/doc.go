// Package llm defines the provider-neutral chat-completion types used by the
// orchestrator: conversation messages, tool definitions and tool calls.
// Provider adapters live in sub-packages.
package llm
