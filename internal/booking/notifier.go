package booking

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers booking outcomes and reminders to the outside world.
// The core passes outcomes through; rendering is someone else's problem.
type Notifier interface {
	AppointmentReminder(ctx context.Context, appt Appointment, patient, doctor *User) error
}

// LogNotifier writes reminders to the structured log. It stands in for a
// real delivery channel (email, SMS, push) behind the same interface.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) AppointmentReminder(_ context.Context, appt Appointment, patient, doctor *User) error {
	n.log.Info("appointment reminder",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("patient", patient.Name),
		zap.String("doctor", doctor.Name),
		zap.Time("start_time", appt.StartTime))
	return nil
}
