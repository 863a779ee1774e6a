// Package workflow runs the built-in multi-step business workflows, their
// decision points and the shared key/value state that tools and workflows
// read and write.
package workflow
