// Package backup snapshots every successful compile into a directory of
// versioned artifacts, enforces the tiered retention policy, and
// restores snapshots on rollback. The index is reconstructed from
// directory contents on every run; no side database, no persisted
// sweep progress.
package backup

import (
	"fmt"
	"sort"
	"time"
)

// Tier is a retention class.
type Tier string

const (
	TierRecent        Tier = "recent"
	TierDaily         Tier = "daily"
	TierWeekly        Tier = "weekly"
	TierPendingDelete Tier = "pending-delete"
)

// Record is one backup snapshot, reconstructed from the directory.
type Record struct {
	Version     string    `json:"version"`
	ContentHash string    `json:"content_hash,omitempty"`
	Tier        Tier      `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
	Path        string    `json:"-"`
}

// Policy is the retention configuration.
type Policy struct {
	RecentCount int // most recent N kept unconditionally
	DailyDays   int // one per calendar day within this many days
	WeeklyWeeks int // one per ISO week within this many weeks
}

// DefaultPolicy matches the documented defaults: 10 recent, 7 daily
// days, 4 weekly weeks.
func DefaultPolicy() Policy {
	return Policy{RecentCount: 10, DailyDays: 7, WeeklyWeeks: 4}
}

// AssignTiers computes each record's retention tier. It is a pure
// function over creation times, fully re-derived every run, so an
// interrupted sweep self-heals on the next invocation. The input slice
// is returned sorted by creation time, newest first.
func AssignTiers(records []Record, now time.Time, pol Policy) []Record {
	out := append([]Record(nil), records...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Version > out[j].Version
	})

	dailyCutoff := now.AddDate(0, 0, -pol.DailyDays)
	weeklyCutoff := now.AddDate(0, 0, -7*pol.WeeklyWeeks)
	daysTaken := map[string]bool{}
	weeksTaken := map[string]bool{}

	for i := range out {
		r := &out[i]
		if i < pol.RecentCount {
			r.Tier = TierRecent
			continue
		}
		created := r.CreatedAt.UTC()
		if created.After(dailyCutoff) {
			day := created.Format("2006-01-02")
			if !daysTaken[day] {
				daysTaken[day] = true
				r.Tier = TierDaily
				continue
			}
		}
		if created.After(weeklyCutoff) {
			year, week := created.ISOWeek()
			key := fmt.Sprintf("%04d-W%02d", year, week)
			if !weeksTaken[key] {
				weeksTaken[key] = true
				r.Tier = TierWeekly
				continue
			}
		}
		r.Tier = TierPendingDelete
	}
	return out
}
