// Package backend defines the asynchronous handle contract all execution
// backends must implement, along with the invocation type exchanged between
// the dispatch engine and backend implementations, and a registry for
// selecting backends by name.
package backend
