package clinicians

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Busy is an interval already taken by an appointment.
type Busy struct {
	StartsAt time.Time
	EndsAt   time.Time
}

// ValidateRule rejects malformed or midnight-crossing windows.
func ValidateRule(r Rule) error {
	if r.Weekday < 0 || r.Weekday > 6 {
		return errors.New("clinicians: weekday out of range")
	}
	if r.StartMinute < 0 || r.EndMinute > 24*60 {
		return errors.New("clinicians: window out of range")
	}
	if r.StartMinute >= r.EndMinute {
		return errors.New("clinicians: window must not cross midnight")
	}
	if r.SlotMinutes < 5 || r.SlotMinutes > 240 {
		return errors.New("clinicians: slot length out of range")
	}
	return nil
}

// ValidateNoOverlap rejects a rule whose window overlaps an existing rule on
// the same weekday.
func ValidateNoOverlap(r Rule, existing []Rule) error {
	for _, other := range existing {
		if other.ID == r.ID || other.Weekday != r.Weekday {
			continue
		}
		if r.StartMinute < other.EndMinute && other.StartMinute < r.EndMinute {
			return fmt.Errorf("clinicians: window overlaps rule %s", other.ID)
		}
	}
	return nil
}

// ExpandSlots turns weekly rules into concrete bookable slots between from
// and to, applying date exceptions and removing slots that intersect busy
// intervals. Slots entirely in the past are skipped. All computation happens
// in loc (the clinician's timezone).
func ExpandSlots(rules []Rule, exceptions []Exception, busy []Busy, from, to time.Time, loc *time.Location) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	from = from.In(loc)
	to = to.In(loc)

	exByDate := make(map[string]Exception, len(exceptions))
	for _, e := range exceptions {
		exByDate[e.Date] = e
	}

	var out []Slot
	for day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		dateKey := day.Format("2006-01-02")
		ex, hasEx := exByDate[dateKey]
		if hasEx && ex.Closed() {
			continue
		}

		for _, r := range rules {
			if int(day.Weekday()) != r.Weekday {
				continue
			}
			startMin, endMin := r.StartMinute, r.EndMinute
			if hasEx {
				// An open exception narrows the day to its window.
				if *ex.StartMinute > startMin {
					startMin = *ex.StartMinute
				}
				if *ex.EndMinute < endMin {
					endMin = *ex.EndMinute
				}
				if startMin >= endMin {
					continue
				}
			}

			for m := startMin; m+r.SlotMinutes <= endMin; m += r.SlotMinutes {
				slot := Slot{
					ClinicianID: r.ClinicianID,
					StartsAt:    day.Add(time.Duration(m) * time.Minute),
					EndsAt:      day.Add(time.Duration(m+r.SlotMinutes) * time.Minute),
					Location:    r.Location,
				}
				if slot.EndsAt.Before(from) || slot.StartsAt.After(to) || !slot.StartsAt.After(time.Now().In(loc)) {
					continue
				}
				if intersectsBusy(slot, busy) {
					continue
				}
				out = append(out, slot)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func intersectsBusy(s Slot, busy []Busy) bool {
	for _, b := range busy {
		if s.StartsAt.Before(b.EndsAt) && b.StartsAt.Before(s.EndsAt) {
			return true
		}
	}
	return false
}

// ContainsSlot reports whether the candidate interval is one of the expanded
// slots. Booking uses this to reject made-up times.
func ContainsSlot(slots []Slot, startsAt, endsAt time.Time) bool {
	for _, s := range slots {
		if s.StartsAt.Equal(startsAt) && s.EndsAt.Equal(endsAt) {
			return true
		}
	}
	return false
}
