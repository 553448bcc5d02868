package adapter

import "context"

// Notifier delivers human-readable operator messages. Delivery is
// fire-and-forget: a notify failure never fails the operation that
// produced the message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
	// NotifyUrgent is for conditions that need immediate operator action,
	// such as key pool exhaustion.
	NotifyUrgent(ctx context.Context, message string) error
}
