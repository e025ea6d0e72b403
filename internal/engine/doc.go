// Package engine implements the inbox synchronization engine.
//
// The engine reconciles optimistic local actions (sends, conversation starts,
// read marks) with a periodically polled server view.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All engine state is mutated by one goroutine, Engine.Run. Callers submit
// requests as events; network calls run on their own goroutines and come back
// as completion events. Between dispatch and completion other events (ticks,
// navigation) are processed, so state is consistent at every event boundary.
//
// Event Processing Flow:
//  1. Public methods (Send, Select, Resolve, Refresh, MarkRead) enqueue a request.
//  2. Run dequeues events one at a time and applies them.
//  3. Requests that need the backend dispatch a goroutine and return.
//  4. The goroutine enqueues a completion event; Run applies it and replies.
//
// Components:
//   - Synchronization loop (sync.go): periodic, cancellable refresh.
//   - Optimistic send pipeline (send.go): provisional append, confirm or roll back.
//   - Conversation resolver (resolve.go): find-or-start, exactly once per target.
//
// Reconciliation rules:
//   - Message listings merge by identity; in-flight provisional messages survive.
//   - Responses carry a logical sequence number; stale ones are dropped.
//   - Completions for a superseded selection are ignored via the selection epoch.
//   - After shutdown the queue refuses completions, so late responses are dropped.
package engine
