package clinicians

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func minutes(h, m int) int { return h*60 + m }

func TestValidateRule(t *testing.T) {
	base := Rule{Weekday: 1, StartMinute: minutes(9, 0), EndMinute: minutes(12, 0), SlotMinutes: 30}

	if err := ValidateRule(base); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	crossing := base
	crossing.StartMinute = minutes(23, 0)
	crossing.EndMinute = minutes(1, 0)
	if err := ValidateRule(crossing); err == nil {
		t.Error("midnight-crossing rule accepted")
	}

	badDay := base
	badDay.Weekday = 7
	if err := ValidateRule(badDay); err == nil {
		t.Error("weekday 7 accepted")
	}

	tiny := base
	tiny.SlotMinutes = 1
	if err := ValidateRule(tiny); err == nil {
		t.Error("1-minute slots accepted")
	}
}

func TestValidateNoOverlap(t *testing.T) {
	existing := []Rule{
		{ID: uuid.New(), Weekday: 1, StartMinute: minutes(9, 0), EndMinute: minutes(12, 0)},
	}

	overlapping := Rule{ID: uuid.New(), Weekday: 1, StartMinute: minutes(11, 0), EndMinute: minutes(14, 0)}
	if err := ValidateNoOverlap(overlapping, existing); err == nil {
		t.Error("overlapping rule accepted")
	}

	adjacent := Rule{ID: uuid.New(), Weekday: 1, StartMinute: minutes(12, 0), EndMinute: minutes(14, 0)}
	if err := ValidateNoOverlap(adjacent, existing); err != nil {
		t.Errorf("back-to-back rule rejected: %v", err)
	}

	otherDay := Rule{ID: uuid.New(), Weekday: 2, StartMinute: minutes(9, 0), EndMinute: minutes(12, 0)}
	if err := ValidateNoOverlap(otherDay, existing); err != nil {
		t.Errorf("different weekday rejected: %v", err)
	}

	// Updating a rule must not collide with itself.
	self := existing[0]
	self.EndMinute = minutes(13, 0)
	if err := ValidateNoOverlap(self, existing); err != nil {
		t.Errorf("self-update rejected: %v", err)
	}
}

// nextWeekday returns the next future occurrence of the weekday, at midnight UTC.
func nextWeekday(weekday time.Weekday) time.Time {
	day := time.Now().UTC().AddDate(0, 0, 1)
	for day.Weekday() != weekday {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func TestExpandSlotsBasic(t *testing.T) {
	clinicianID := uuid.New()
	day := nextWeekday(time.Monday)
	rules := []Rule{
		{ID: uuid.New(), ClinicianID: clinicianID, Weekday: int(time.Monday),
			StartMinute: minutes(9, 0), EndMinute: minutes(11, 0), SlotMinutes: 30},
	}

	slots := ExpandSlots(rules, nil, nil, day, day.AddDate(0, 0, 1), time.UTC)
	if len(slots) != 4 {
		t.Fatalf("len(slots) = %d, want 4", len(slots))
	}
	if !slots[0].StartsAt.Equal(day.Add(9 * time.Hour)) {
		t.Errorf("first slot = %s", slots[0].StartsAt)
	}
	if !slots[3].EndsAt.Equal(day.Add(11 * time.Hour)) {
		t.Errorf("last slot ends = %s", slots[3].EndsAt)
	}
}

func TestExpandSlotsClosedException(t *testing.T) {
	clinicianID := uuid.New()
	day := nextWeekday(time.Monday)
	rules := []Rule{
		{ID: uuid.New(), ClinicianID: clinicianID, Weekday: int(time.Monday),
			StartMinute: minutes(9, 0), EndMinute: minutes(11, 0), SlotMinutes: 30},
	}
	exceptions := []Exception{
		{ClinicianID: clinicianID, Date: day.Format("2006-01-02")},
	}

	slots := ExpandSlots(rules, exceptions, nil, day, day.AddDate(0, 0, 1), time.UTC)
	if len(slots) != 0 {
		t.Fatalf("len(slots) = %d, want 0 on closed day", len(slots))
	}
}

func TestExpandSlotsNarrowingException(t *testing.T) {
	clinicianID := uuid.New()
	day := nextWeekday(time.Monday)
	rules := []Rule{
		{ID: uuid.New(), ClinicianID: clinicianID, Weekday: int(time.Monday),
			StartMinute: minutes(9, 0), EndMinute: minutes(12, 0), SlotMinutes: 60},
	}
	start, end := minutes(10, 0), minutes(12, 0)
	exceptions := []Exception{
		{ClinicianID: clinicianID, Date: day.Format("2006-01-02"), StartMinute: &start, EndMinute: &end},
	}

	slots := ExpandSlots(rules, exceptions, nil, day, day.AddDate(0, 0, 1), time.UTC)
	if len(slots) != 2 {
		t.Fatalf("len(slots) = %d, want 2", len(slots))
	}
	if !slots[0].StartsAt.Equal(day.Add(10 * time.Hour)) {
		t.Errorf("first slot = %s, want 10:00", slots[0].StartsAt)
	}
}

func TestExpandSlotsRemovesBusy(t *testing.T) {
	clinicianID := uuid.New()
	day := nextWeekday(time.Monday)
	rules := []Rule{
		{ID: uuid.New(), ClinicianID: clinicianID, Weekday: int(time.Monday),
			StartMinute: minutes(9, 0), EndMinute: minutes(11, 0), SlotMinutes: 30},
	}
	busy := []Busy{
		{StartsAt: day.Add(9*time.Hour + 30*time.Minute), EndsAt: day.Add(10 * time.Hour)},
	}

	slots := ExpandSlots(rules, nil, busy, day, day.AddDate(0, 0, 1), time.UTC)
	if len(slots) != 3 {
		t.Fatalf("len(slots) = %d, want 3", len(slots))
	}
	for _, s := range slots {
		if s.StartsAt.Equal(day.Add(9*time.Hour + 30*time.Minute)) {
			t.Error("busy slot still present")
		}
	}
}

func TestExpandSlotsSkipsPast(t *testing.T) {
	clinicianID := uuid.New()
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	day := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC)
	rules := []Rule{
		{ID: uuid.New(), ClinicianID: clinicianID, Weekday: int(day.Weekday()),
			StartMinute: minutes(9, 0), EndMinute: minutes(17, 0), SlotMinutes: 30},
	}

	slots := ExpandSlots(rules, nil, nil, day, day.AddDate(0, 0, 1), time.UTC)
	if len(slots) != 0 {
		t.Fatalf("len(slots) = %d, want 0 for a past day", len(slots))
	}
}

func TestContainsSlot(t *testing.T) {
	day := nextWeekday(time.Monday)
	slots := []Slot{
		{StartsAt: day.Add(9 * time.Hour), EndsAt: day.Add(9*time.Hour + 30*time.Minute)},
	}
	if !ContainsSlot(slots, day.Add(9*time.Hour), day.Add(9*time.Hour+30*time.Minute)) {
		t.Error("expected slot match")
	}
	if ContainsSlot(slots, day.Add(9*time.Hour+15*time.Minute), day.Add(9*time.Hour+45*time.Minute)) {
		t.Error("off-grid interval matched")
	}
}
