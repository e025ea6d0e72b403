// Package model defines the entities the inbox engine works with.
//
// These types are independent of the backend wire format. Only package wire
// knows how backend records are shaped; everything else speaks model.
//
// Identity rules:
//   - A confirmed Message carries the server-assigned id.
//   - A provisional Message carries a client-assigned id prefixed with
//     ProvisionalPrefix. It is replaced by a new value on confirmation,
//     never mutated into the confirmed message.
//   - Conversations are never deleted by the engine.
package model
