// Package intent defines the UI-control messages pushed to front-end clients
// and the websocket broadcaster that fans them out in emission order.
package intent
