// Package queue is the queue state machine: the ledger program that owns
// queue accounts and advances them one step per instruction.
//
// A queue belongs to an authority and is addressed by (authority, id). It
// carries a trigger, a kickoff instruction template and, while a chain is
// running, the next instruction to invoke. The queue is InChain exactly
// while NextInstruction is present.
//
//	Created ──► Active ⇄ Paused ──► Stopped ──► (deleted)
//	              │  ▲
//	     kickoff  ▼  │ crank (no continuation)
//	            InChain ─┐
//	              ▲      │ crank (continuation)
//	              └──────┘
//
// Kickoff evaluates the trigger and, when eligible, invokes the kickoff
// instruction signed by the queue account. Crank invokes the stored next
// instruction. Both charge a step fee to the worker that dispatched them
// and honor the queue's per-slot rate limit. Every step is atomic with the
// batch that carries it.
//
// Instructions for clients are built with [CreateInstruction],
// [KickoffInstruction], [CrankInstruction] and friends; queue accounts are
// located with [Address] and read with [Decode].
package queue
