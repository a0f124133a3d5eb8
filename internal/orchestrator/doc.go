// Package orchestrator runs the zero-friction loop: it fans detection out
// across every registered detector, merges and prioritizes the discovered
// friction points, eliminates the highest-impact ones under a concurrency
// cap, and derives the resulting flow state. Repeated elimination failures
// and sustained low flow scores are escalated through the configured sinks.
package orchestrator
