package auction

import "time"

// BusinessZone is the Brasília offset. Daily budgets, pacing and the
// dashboard all reset at midnight in this zone. Brazil has no DST.
var BusinessZone = time.FixedZone("BRT", -3*60*60)

// DayStart returns the Brasília midnight that begins the day containing t.
func DayStart(t time.Time) time.Time {
	local := t.In(BusinessZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, BusinessZone)
}
