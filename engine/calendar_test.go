package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ledgerline/automation-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) engine.Date {
	return engine.NewDate(y, m, d)
}

func weekly(weekday int) engine.Cadence {
	return engine.Cadence{Type: engine.CadenceWeekly, AnchorDay: weekday}
}

func monthly(day int) engine.Cadence {
	return engine.Cadence{Type: engine.CadenceMonthly, AnchorDay: day}
}

func yearly(month time.Month, day int) engine.Cadence {
	return engine.Cadence{Type: engine.CadenceYearly, AnchorMonth: month, AnchorDay: day}
}

func assertDates(t *testing.T, got []engine.Date, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].String() != w {
			t.Errorf("occurrence %d: expected %s, got %s", i, w, got[i])
		}
	}
}

// =============================================================================
// WEEKLY CADENCE
// =============================================================================

func TestOccurrences_Weekly_StepsBySevenDays(t *testing.T) {
	// GIVEN: A weekly cadence anchored on Monday (weekday 1)
	// WHEN: Generating over four weeks starting mid-week
	// THEN: Each occurrence is the next Monday, exactly 7 days apart

	occs, err := engine.Occurrences(weekly(1), date(2024, time.March, 6), date(2024, time.March, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-03-11", "2024-03-18", "2024-03-25")
}

func TestOccurrences_Weekly_FromDayMatchesAnchor(t *testing.T) {
	// GIVEN: A weekly cadence anchored on Sunday (weekday 0)
	// WHEN: The range starts exactly on a Sunday
	// THEN: The range start itself is the first occurrence

	occs, err := engine.Occurrences(weekly(0), date(2024, time.March, 3), date(2024, time.March, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-03-03", "2024-03-10")
}

func TestOccurrences_Weekly_InvalidAnchor(t *testing.T) {
	occs, err := engine.Occurrences(weekly(7), date(2024, time.March, 1), date(2024, time.March, 31))
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if occs != nil {
		t.Errorf("expected no occurrences on error, got %v", occs)
	}
}

// =============================================================================
// MONTHLY CADENCE
// =============================================================================

func TestOccurrences_Monthly_ClampsToMonthEnd(t *testing.T) {
	// GIVEN: A monthly cadence anchored on day 31
	// WHEN: Generating across February of a leap year
	// THEN: February yields the 29th, not a skipped month

	occs, err := engine.Occurrences(monthly(31), date(2024, time.February, 1), date(2024, time.February, 29))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-02-29")
}

func TestOccurrences_Monthly_ClampDoesNotDriftAnchor(t *testing.T) {
	// GIVEN: A monthly cadence anchored on day 31
	// WHEN: Generating across Feb, Mar, Apr 2024
	// THEN: The clamp applies per month; March returns to the 31st and
	//       April clamps to the 30th, never inheriting February's 29

	occs, err := engine.Occurrences(monthly(31), date(2024, time.February, 1), date(2024, time.April, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-02-29", "2024-03-31", "2024-04-30")
}

func TestOccurrences_Monthly_NonLeapFebruary(t *testing.T) {
	occs, err := engine.Occurrences(monthly(30), date(2023, time.February, 1), date(2023, time.February, 28))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2023-02-28")
}

func TestOccurrences_Monthly_SkipsPassedAnchorInFirstMonth(t *testing.T) {
	// GIVEN: A monthly cadence anchored on the 5th
	// WHEN: The range starts on the 10th
	// THEN: The first occurrence is next month's 5th

	occs, err := engine.Occurrences(monthly(5), date(2024, time.January, 10), date(2024, time.March, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-02-05", "2024-03-05")
}

func TestOccurrences_Monthly_InvalidAnchor(t *testing.T) {
	_, err := engine.Occurrences(monthly(0), date(2024, time.January, 1), date(2024, time.December, 31))
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = engine.Occurrences(monthly(32), date(2024, time.January, 1), date(2024, time.December, 31))
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// =============================================================================
// YEARLY CADENCE
// =============================================================================

func TestOccurrences_Yearly_AnchorMonthAndDay(t *testing.T) {
	occs, err := engine.Occurrences(yearly(time.June, 15), date(2024, time.January, 1), date(2026, time.December, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-06-15", "2025-06-15", "2026-06-15")
}

func TestOccurrences_Yearly_LeapDayClampsInCommonYears(t *testing.T) {
	// GIVEN: A yearly cadence anchored Feb 29
	// WHEN: Generating across a leap year and the following common year
	// THEN: The common year clamps to Feb 28

	occs, err := engine.Occurrences(yearly(time.February, 29), date(2024, time.January, 1), date(2025, time.December, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-02-29", "2025-02-28")
}

func TestOccurrences_Yearly_PassedThisYear(t *testing.T) {
	// GIVEN: A yearly anchor of March 1
	// WHEN: The range starts in April
	// THEN: The first occurrence is next year's March 1

	occs, err := engine.Occurrences(yearly(time.March, 1), date(2024, time.April, 1), date(2025, time.March, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2025-03-01")
}

// =============================================================================
// RANGE EDGES
// =============================================================================

func TestOccurrences_EmptyWhenFromAfterTo(t *testing.T) {
	occs, err := engine.Occurrences(monthly(1), date(2024, time.June, 1), date(2024, time.May, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occs) != 0 {
		t.Errorf("expected empty sequence, got %v", occs)
	}
}

func TestOccurrences_InclusiveRangeEnds(t *testing.T) {
	// Both endpoints fire when they land on the anchor.
	occs, err := engine.Occurrences(monthly(15), date(2024, time.January, 15), date(2024, time.February, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, occs, "2024-01-15", "2024-02-15")
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2024, time.April, 30},
		{2024, time.December, 31},
	}
	for _, c := range cases {
		if got := engine.DaysInMonth(c.year, c.month); got != c.want {
			t.Errorf("DaysInMonth(%d, %s): expected %d, got %d", c.year, c.month, c.want, got)
		}
	}
}
