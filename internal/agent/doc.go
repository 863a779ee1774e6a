// Package agent contains the orchestrator that turns a natural-language goal
// into a bounded sequence of completion calls and tool invocations. Each run
// keeps its own conversation, dispatches tool calls in the order the model
// requested them, and always ends with a human-readable reply.
package agent
