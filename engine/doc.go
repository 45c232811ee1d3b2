// Package engine provides the dispatch/collation core: it resolves each
// closure's capture set once, streams work items to a backend under a
// bounded outstanding-handle cap, and collates results into input order no
// matter what order the backend completes them in, escalating per-item
// failures only after every item has reached a terminal state.
package engine
