// Package notify fans the outcome of a provisioning request out to the invoking
// room, the requester's private channel and the audit webhook.
//
// The three deliveries are independent: a failed direct message does not stop the
// audit record, and no delivery failure is propagated beyond the returned slice of
// *NotificationDeliveryError values.
package notify
