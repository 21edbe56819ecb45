package storage

import (
	"fmt"
	"slices"
	"time"
)

// ExpiryPolicy defines which archives are kept when a store is pruned.
type ExpiryPolicy struct {
	// MaxArchives is the maximum number of archives to keep (0 = unlimited).
	MaxArchives int
	// MaxAge is the maximum age of archives to keep (0 = unlimited).
	MaxAge time.Duration
	// KeepHourly keeps the newest archive of this many distinct hours.
	KeepHourly int
	// KeepDaily keeps the newest archive of this many distinct days.
	KeepDaily int
	// KeepWeekly keeps the newest archive of this many distinct ISO weeks.
	KeepWeekly int
	// KeepMonthly keeps the newest archive of this many distinct months.
	KeepMonthly int
	// KeepYearly keeps the newest archive of this many distinct years.
	KeepYearly int
}

// DefaultExpiryPolicy returns a policy that keeps everything.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{}
}

func (p ExpiryPolicy) rotates() bool {
	return p.KeepHourly > 0 || p.KeepDaily > 0 || p.KeepWeekly > 0 || p.KeepMonthly > 0 || p.KeepYearly > 0
}

// ArchiveInfo is what the expiry policy needs to know about an archive.
type ArchiveInfo struct {
	Name      string
	Timestamp time.Time
	Size      int64
}

// ArchiveName returns a timestamped name of the form prefix-YYYYMMDD-HHMMSS.
func ArchiveName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.Format("20060102-150405"))
}

// ApplyExpiryPolicy returns the names of the archives the policy expires,
// newest first. Rotation buckets are applied first; MaxArchives and MaxAge
// then trim whatever the buckets kept.
func ApplyExpiryPolicy(archives []ArchiveInfo, policy ExpiryPolicy, now time.Time) []string {
	if len(archives) == 0 {
		return nil
	}

	sorted := slices.Clone(archives)
	slices.SortStableFunc(sorted, func(a, b ArchiveInfo) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	keep := make([]bool, len(sorted))
	if policy.rotates() {
		buckets := []struct {
			limit int
			key   func(time.Time) string
			seen  map[string]bool
		}{
			{policy.KeepHourly, func(t time.Time) string { return t.Format("2006-01-02T15") }, map[string]bool{}},
			{policy.KeepDaily, func(t time.Time) string { return t.Format("2006-01-02") }, map[string]bool{}},
			{policy.KeepWeekly, func(t time.Time) string {
				y, w := t.ISOWeek()
				return fmt.Sprintf("%d-W%02d", y, w)
			}, map[string]bool{}},
			{policy.KeepMonthly, func(t time.Time) string { return t.Format("2006-01") }, map[string]bool{}},
			{policy.KeepYearly, func(t time.Time) string { return t.Format("2006") }, map[string]bool{}},
		}
		// Every bucket sees every archive so one archive can satisfy several
		// periods at once.
		for i, a := range sorted {
			for _, b := range buckets {
				if b.limit == 0 || len(b.seen) >= b.limit {
					continue
				}
				if k := b.key(a.Timestamp); !b.seen[k] {
					b.seen[k] = true
					keep[i] = true
				}
			}
		}
	} else {
		for i := range keep {
			keep[i] = true
		}
	}

	kept := 0
	cutoff := now.Add(-policy.MaxAge)
	for i, a := range sorted {
		if !keep[i] {
			continue
		}
		if policy.MaxAge > 0 && a.Timestamp.Before(cutoff) {
			keep[i] = false
			continue
		}
		if policy.MaxArchives > 0 && kept >= policy.MaxArchives {
			keep[i] = false
			continue
		}
		kept++
	}

	var expired []string
	for i, a := range sorted {
		if !keep[i] {
			expired = append(expired, a.Name)
		}
	}
	return expired
}
