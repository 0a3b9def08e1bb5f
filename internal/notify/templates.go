package notify

import (
	"fmt"
	"time"
)

const timeFormat = "Monday, January 2 at 3:04 PM"

func appointmentBookedEmail(toName string, startsAt time.Time, reason string) EmailMessage {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour video consultation is booked for %s.",
		toName, startsAt.Format(timeFormat),
	)
	if reason != "" {
		body += fmt.Sprintf("\nReason: %s", reason)
	}
	body += "\n\nYou will receive a reminder 24 hours before the appointment."
	return EmailMessage{
		ToName:  toName,
		Subject: "Appointment booked",
		Body:    body,
	}
}

func appointmentCancelledEmail(toName string, startsAt time.Time) EmailMessage {
	return EmailMessage{
		ToName:  toName,
		Subject: "Appointment cancelled",
		Body: fmt.Sprintf(
			"Hi %s,\n\nThe consultation scheduled for %s has been cancelled.\nYou can book a new slot from your dashboard.",
			toName, startsAt.Format(timeFormat),
		),
	}
}

func appointmentRescheduledEmail(toName string, startsAt time.Time) EmailMessage {
	return EmailMessage{
		ToName:  toName,
		Subject: "Appointment rescheduled",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour consultation has been moved to %s.",
			toName, startsAt.Format(timeFormat),
		),
	}
}

// AppointmentReminderEmail is also built by the reminder worker.
func AppointmentReminderEmail(toName string, startsAt time.Time) EmailMessage {
	return EmailMessage{
		ToName:  toName,
		Subject: "Appointment reminder",
		Body: fmt.Sprintf(
			"Hi %s,\n\nThis is a reminder for your video consultation on %s.\nPlease join the video room a few minutes early.",
			toName, startsAt.Format(timeFormat),
		),
	}
}

func paymentSucceededEmail(toName string, amountCents int64, currency string) EmailMessage {
	return EmailMessage{
		ToName:  toName,
		Subject: "Deposit received",
		Body: fmt.Sprintf(
			"Hi %s,\n\nWe received your deposit of %s.\nYour appointment is secured.",
			toName, formatAmount(amountCents, currency),
		),
	}
}

func paymentRefundedEmail(toName string, amountCents int64, currency string) EmailMessage {
	return EmailMessage{
		ToName:  toName,
		Subject: "Deposit refunded",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour deposit of %s has been refunded.\nThe funds should arrive within a few business days.",
			toName, formatAmount(amountCents, currency),
		),
	}
}

func emergencyClaimedEmail(toName, clinicianName string) EmailMessage {
	return EmailMessage{
		ToName:  toName,
		Subject: "A clinician is responding to your request",
		Body: fmt.Sprintf(
			"Hi %s,\n\n%s has taken your emergency request and will contact you shortly.\nYou can message them directly from the app.",
			toName, clinicianName,
		),
	}
}

func formatAmount(cents int64, currency string) string {
	symbol := map[string]string{"eur": "€", "usd": "$", "gbp": "£"}[currency]
	if symbol == "" {
		return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(cents)/100)
}
