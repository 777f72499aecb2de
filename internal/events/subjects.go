package events

// Event type names, part of the public surface: background workers (the
// embedding worker, the stream consumers, the monitor) subscribe to
// these by name.
const (
	EventThoughtCreated         = "thought_created"
	EventThoughtAccessed        = "thought_accessed"
	EventChainCreated           = "chain_created"
	EventChainUpdated           = "chain_updated"
	EventIdentityUpdated        = "identity_updated"
	EventIdentityDocumentSaved  = "identity_document_saved"
	EventIdentityDocumentDeleted = "identity_document_deleted"
	EventFeedbackProvided       = "feedback_provided"
	EventSearchPerformed        = "search_performed"
	EventInterventionExecuted   = "intervention_executed"
)

// InstanceEventsSubject is the per-instance write-event subject every
// repository/identity/feedback mutation publishes to.
func InstanceEventsSubject(instance string) string { return instance + ":events" }

// AllEventsSubject subscribes to every instance's event subject.
const AllEventsSubject = "*:events"
