// Package chat holds the conversation log and drives message exchange with
// the completion service. The orchestrator owns the ordered message list and
// the pending input buffer, enforces one in-flight send at a time, and keeps
// the conversation usable when the completion service fails by answering
// with a fixed apology instead of surfacing a broken turn.
package chat
