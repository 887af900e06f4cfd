package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout    = "2006-01-02"
	displayLayout = "Monday, January 2"
	labelLayout   = "3:04 PM"
)

// ProjectSlots enumerates the doctor's bookable slots for the configured
// horizon, one DaySlots entry per calendar day starting at now's day. The
// doctor must be verified. A doctor without an active availability window
// yields the full horizon of empty days rather than an error.
//
// now is injected so tests can pin the clock.
func (s *Service) ProjectSlots(ctx context.Context, doctorID uuid.UUID, now time.Time) ([]DaySlots, error) {
	if _, err := s.repo.GetVerifiedDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	days := make([]time.Time, s.cfg.HorizonDays)
	for i := range days {
		days[i] = now.AddDate(0, 0, i)
	}

	window, err := s.repo.GetActiveAvailability(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return emptyProjection(days), nil
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	// One fetch covers every projected day. The upper bound is the end of
	// the horizon's last calendar day.
	lastDay := endOfDay(days[len(days)-1])
	booked, err := s.repo.ListScheduledAppointments(ctx, doctorID, lastDay)
	if err != nil {
		return nil, fmt.Errorf("load scheduled appointments: %w", err)
	}

	out := make([]DaySlots, 0, len(days))
	for _, day := range days {
		slots := walkDay(window, day, s.cfg.SlotStep, now, booked)

		display := day.Format(displayLayout)
		if len(slots) > 0 {
			display = slots[0].Day
		}

		out = append(out, DaySlots{
			Date:        day.Format(dateLayout),
			DisplayDate: display,
			Slots:       slots,
		})
	}

	return out, nil
}

// walkDay stamps the recurring window's time-of-day onto the given calendar
// day and walks it in fixed steps. A candidate [cur, cur+step) is emitted
// when it fully fits the window (cur+step <= windowEnd), does not start in
// the past, and does not overlap any booked interval. Past candidates are
// skipped without terminating the walk.
func walkDay(window *Availability, day time.Time, step time.Duration, now time.Time, booked []Appointment) []Slot {
	dayStart := stampTimeOfDay(window.StartTime, day)
	dayEnd := stampTimeOfDay(window.EndTime, day)

	slots := []Slot{}
	for cur := dayStart; !cur.Add(step).After(dayEnd); cur = cur.Add(step) {
		if cur.Before(now) {
			continue
		}

		next := cur.Add(step)
		if overlapsAny(cur, next, booked) {
			continue
		}

		slots = append(slots, Slot{
			StartTime: cur,
			EndTime:   next,
			Formatted: fmt.Sprintf("%s - %s", cur.Format(labelLayout), next.Format(labelLayout)),
			Day:       cur.Format(displayLayout),
		})
	}

	return slots
}

// overlapsAny reports whether [start, end) intersects any scheduled interval
// under half-open semantics: touching at a boundary is not an overlap, so
// back-to-back slots stay bookable.
func overlapsAny(start, end time.Time, booked []Appointment) bool {
	for _, a := range booked {
		if start.Before(a.EndTime) && a.StartTime.Before(end) {
			return true
		}
	}
	return false
}

func stampTimeOfDay(t, day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, day.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

func emptyProjection(days []time.Time) []DaySlots {
	out := make([]DaySlots, 0, len(days))
	for _, day := range days {
		out = append(out, DaySlots{
			Date:        day.Format(dateLayout),
			DisplayDate: day.Format(displayLayout),
			Slots:       []Slot{},
		})
	}
	return out
}
