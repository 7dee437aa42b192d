// Package events is the orchestrator's event plane (spec §4.3): typed
// lifecycle and log events, ordered per execution, delivered to bounded
// in-process subscriber channels with drop-on-full slow-consumer
// isolation, and mirrored over the shared Redis broadcast channel
// (component B) so every process instance sees every execution's events
// regardless of which instance is running it.
//
// Grounded on the teacher's pkg/events package: channel-name-per-subject
// convention, typed payload structs per event kind, and a publisher/
// listener split around a shared broadcast medium. Two deliberate
// adaptations: the engine "never blocks on a subscriber" (§4.3), so the
// teacher's synchronous per-connection Broadcast becomes a non-blocking
// send to a bounded per-subscriber channel; and the broadcast medium is
// Redis pub/sub via pkg/cache rather than the teacher's Postgres
// LISTEN/NOTIFY, because this spec assigns cross-process fan-out to the
// cache component (§2 B) and keeps the relational store for durable state
// only.
package events

// ExecutionChannel is the bus routing key carrying every event for one
// execution (spec §4.3, §6 streaming endpoint).
func ExecutionChannel(executionID string) string {
	return "execution:" + executionID
}

// AgentChannel carries execution.state events for every execution of one
// agent — used by the realtime agent room (spec §4.4).
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// UserChannel carries execution.state events for every execution a user
// submitted — used by the realtime user room (spec §4.4).
func UserChannel(userID string) string {
	return "user:" + userID
}

// GlobalExecutionsChannel carries a transient copy of every execution.state
// transition, for dashboard-style "all active executions" views.
const GlobalExecutionsChannel = "executions:global"

// AllEventsChannel carries a copy of every event of every type, regardless
// of execution or owner — the webhook dispatcher's enqueue trigger
// subscribes here rather than to one channel per owner, since the set of
// owners with active webhooks changes at runtime (spec §4.5). It doubles
// as the Redis broadcast channel name: each instance publishes every
// event there once, and each instance's Listener re-fans received events
// out to its local per-subject bus channels.
const AllEventsChannel = "events:all"
