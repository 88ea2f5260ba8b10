/*
calendar.go - Pure occurrence generation from cadences

PURPOSE:
  Given a recurrence rule and a date range, produce the ordered sequence
  of occurrence dates. No I/O, no state: the runner re-derives occurrences
  from the automation checkpoint on every invocation, so this function
  must be deterministic and total.

CADENCES:
  Weekly:  anchor is a weekday index 0-6 (Sunday=0). The first emitted
           date is the earliest date >= from whose weekday matches;
           subsequent dates step by exactly 7 days.
  Monthly: anchor is a day-of-month 1-31, clamped to the length of each
           month (day 31 in February yields the last day of February).
  Yearly:  same clamping, but the step is 12 months and the month is the
           automation's stored anchor month.

EDGE CASES:
  - from > to yields an empty sequence, not an error
  - both range ends are inclusive
  - invalid anchors fail with a ConfigurationError (non-retryable)

SEE ALSO:
  - types.go: Cadence definition and validation
  - runner.go: The only consumer
*/
package engine

// Occurrences returns every date in [from, to] on which the cadence
// fires, in ascending order. The result is empty when no occurrence
// falls in the range or when from is after to.
func Occurrences(c Cadence, from, to Date) ([]Date, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, nil
	}

	switch c.Type {
	case CadenceWeekly:
		return weeklyOccurrences(c.AnchorDay, from, to), nil
	case CadenceMonthly:
		return monthlyOccurrences(c.AnchorDay, from, to, 1), nil
	default: // CadenceYearly, validated above
		first := ClampedDate(from.Year(), c.AnchorMonth, c.AnchorDay)
		if first.Before(from) {
			first = ClampedDate(from.Year()+1, c.AnchorMonth, c.AnchorDay)
		}
		return yearlyOccurrences(c, first, to), nil
	}
}

func weeklyOccurrences(weekday int, from, to Date) []Date {
	offset := (weekday - int(from.Weekday()) + 7) % 7
	current := from.AddDays(offset)

	var dates []Date
	for current.BeforeOrEqual(to) {
		dates = append(dates, current)
		current = current.AddDays(7)
	}
	return dates
}

func monthlyOccurrences(day int, from, to Date, stepMonths int) []Date {
	year, month := from.Year(), from.Month()
	current := ClampedDate(year, month, day)
	if current.Before(from) {
		next := NewDate(year, month, 1).AddMonths(stepMonths)
		current = ClampedDate(next.Year(), next.Month(), day)
	}

	var dates []Date
	for current.BeforeOrEqual(to) {
		dates = append(dates, current)
		// Step from the first of the month so clamping never drifts the
		// anchor (stepping from Feb 28 would turn anchor 31 into 28).
		next := NewDate(current.Year(), current.Month(), 1).AddMonths(stepMonths)
		current = ClampedDate(next.Year(), next.Month(), day)
	}
	return dates
}

func yearlyOccurrences(c Cadence, first, to Date) []Date {
	var dates []Date
	current := first
	for current.BeforeOrEqual(to) {
		dates = append(dates, current)
		current = ClampedDate(current.Year()+1, c.AnchorMonth, c.AnchorDay)
	}
	return dates
}
