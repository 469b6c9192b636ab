package engage

// TypeCount splits a type's sends and opens within a report window.
type TypeCount struct {
	Sent   int `json:"sent"`
	Opened int `json:"opened"`
}

// Report summarizes engagement over a trailing window.
type Report struct {
	PeriodDays  int                  `json:"periodDays"`
	TotalSent   int                  `json:"totalSent"`
	TotalOpened int                  `json:"totalOpened"`
	OpenRate    float64              `json:"openRate"` // percent
	ByType      map[string]TypeCount `json:"byType"`
	Summary     string               `json:"summary"`
}

// GenerateReport aggregates the retained analytics over the last
// periodDays days.
func (t *Tracker) GenerateReport(periodDays int) Report {
	if periodDays <= 0 {
		periodDays = 7
	}
	cutoff := t.now().AddDate(0, 0, -periodDays)

	r := Report{PeriodDays: periodDays, ByType: map[string]TypeCount{}}

	t.mu.Lock()
	for _, rec := range t.records {
		if rec.SentAt.Before(cutoff) {
			continue
		}
		r.TotalSent++
		tc := r.ByType[string(rec.Type)]
		tc.Sent++
		if rec.OpenedAt != nil {
			r.TotalOpened++
			tc.Opened++
		}
		r.ByType[string(rec.Type)] = tc
	}
	t.mu.Unlock()

	if r.TotalSent > 0 {
		r.OpenRate = float64(r.TotalOpened) / float64(r.TotalSent) * 100
	}
	r.Summary = summarize(r.OpenRate, r.TotalSent)
	return r
}

func summarize(openRate float64, sent int) string {
	switch {
	case sent == 0:
		return "no notifications sent in this period"
	case openRate >= 70:
		return "high engagement: notifications are landing well"
	case openRate >= 30:
		return "moderate engagement: current cadence looks sustainable"
	default:
		return "low engagement: consider fewer or better-timed notifications"
	}
}
