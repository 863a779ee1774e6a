// Package api exposes the HTTP surface of the agent service: the synchronous
// /process endpoint used by the chat front-end, asynchronous goal tasks,
// workflow run history, operator intent pushes, the intent websocket and
// Prometheus metrics.
package api
