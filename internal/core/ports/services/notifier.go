package services

import "context"

// NotificationEvent names the business events the surrounding system is told
// about.
type NotificationEvent string

const (
	EventMemberRegistered  NotificationEvent = "MEMBER_REGISTERED"
	EventCommissionBooked  NotificationEvent = "COMMISSION_BOOKED"
	EventBinaryBonusBooked NotificationEvent = "BINARY_BONUS_BOOKED"
	EventWithdrawalChanged NotificationEvent = "WITHDRAWAL_STATUS_CHANGED"
)

// Notification is one fire-and-forget message to the external dispatcher.
type Notification struct {
	NodeID  string
	Event   NotificationEvent
	Message string
}

// NotificationDispatcher is the outbound port to the excluded notification
// system. Callers invoke it after their transaction commits; a dispatch
// failure must never roll back the financial work that triggered it.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}
