package events

// Event types carried through the outbox. Payloads are the JSON encoding of
// the emitting package's domain struct.
const (
	TypeAppointmentBooked      = "appointment.booked.v1"
	TypeAppointmentCancelled   = "appointment.cancelled.v1"
	TypeAppointmentCompleted   = "appointment.completed.v1"
	TypeAppointmentRescheduled = "appointment.rescheduled.v1"
	TypePaymentSucceeded       = "payment.succeeded.v1"
	TypePaymentRefunded        = "payment.refunded.v1"
	TypeEmergencyOpened        = "emergency.opened.v1"
	TypeEmergencyClaimed       = "emergency.claimed.v1"
	TypeEmergencyClosed        = "emergency.closed.v1"
	TypeChatMessageCreated     = "chat.message.created.v1"
)
