// Package harness runs scripted sessions against the synchronization engine.
//
// A scenario seeds the scripted backend, drives a real engine through a
// sequence of steps and checks assertions against the final state. Runs
// are deterministic, so the final state can be compared with a golden file.
//
// # Scenario Format
//
//	name: send_confirms_provisional
//	description: "Sending replaces the provisional message with the server copy"
//	user: u1
//	conversations:
//	  - id: C1
//	    with: O2
//	    venue: V9
//	    venue_type: reading_room
//	    messages:
//	      - content: "Is the room free?"
//	server_ids: [M100]
//	steps:
//	  - action: select
//	    conversation: C1
//	  - action: fail_next
//	    op: send_message
//	  - action: send
//	    conversation: C1
//	    content: "Hi"
//	    expect_error: SEND_FAILED
//	assertions:
//	  - type: draft
//	    conversation: C1
//	    text: "Hi"
//
// # Steps
//
//   - select, clear_selection, refresh, mark_read: the engine calls of the
//     same name
//   - send, set_draft: compose in a conversation
//   - resolve: open or start the conversation with participant (and venue)
//   - deliver: the counterparty sends content (backend only; refresh to see it)
//   - fail_next, corrupt_next: make the next backend call of op fail or
//     answer without an id
//
// A step must fail with expect_error, or succeed when it is empty.
//
// # Assertion Types
//
//   - conversation_count, message_count, provisional_count: list and thread sizes
//   - unread: one conversation's unread count, or the total
//   - last_message: a conversation's preview content
//   - call_count: backend calls of op
//   - draft: compose text of a conversation
//   - selected: the open conversation ("" for none)
//
// # Determinism
//
// The harness uses a stepping wall clock, a ticker that never fires,
// provisional ids p1, p2, ... and an in-memory cache. Background work a
// step starts without waiting (read marks, resyncs, the thread fetch of a
// resolved conversation) is awaited by the harness before the next step.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/send.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        fmt.Println(e)
//	    }
//	}
package harness
