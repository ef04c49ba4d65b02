// Package broadcaster is the background job that drains the change outbox
// and publishes each change to a message broker, marking entries SENT,
// then ACKED and deleting them, or FAILED for a later attempt.
package broadcaster
