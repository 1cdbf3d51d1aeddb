/*
Package capture orchestrates one recording run against a hardware capture
source.

# Components

  - DeviceSession selects a device (first rear-facing device with a stream
    configuration map), opens it and owns its single capture session.
  - Dispatcher drains the frame pool on every delivery, forwards each frame
    to the engine and releases it on every path.
  - Machine is the state machine tying them together.

# Run states

	idle --open--> opening --opened--> configuring --configured--> recording_auto
	recording_auto --awb converged (once)--> recording_locked
	recording_* --limit reached | stop requested--> stopping
	stopping --finalize ack or grace timeout--> terminated (normal)
	any live state --device lost | capture failed | buffer lost--> terminated (fatal)

Hardware callbacks never touch run state directly: they enqueue an Event
and Machine.Run processes events one at a time, so every transition is
serialized without locks. The transition table is enforced by
github.com/looplab/fsm.

# White balance lock

Recording starts with the automatic descriptor. The first result that
reports convergence while in recording_auto stops the repeating request,
derives the locked descriptor from that result's color correction fields,
and submits it. The lock fires at most once per run.

# Session clock

Elapsed time is (timestamp - first timestamp) / 1e9 over hardware frame
timestamps, reset when recording_auto is entered. The record limit is
checked after every delivery; frames already drained in that delivery are
still forwarded before the stop begins.

# Errors

Failures are *RunError values tagged with a Kind. Every kind except
KindEngineFinalizeTimeout is fatal and ends the run; nothing is retried.
*/
package capture
