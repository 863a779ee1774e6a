// Package tools holds the typed registry of operations the model may call,
// the JSON-schema contracts advertised for them, and the dispatcher that
// validates arguments and turns every outcome into a tool-role message.
package tools
