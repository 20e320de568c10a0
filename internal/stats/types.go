package stats

import "time"

// PassSummary describes one finished refresh pass
type PassSummary struct {
	PassID    string        `json:"passId"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Stopped   bool          `json:"stopped"`
	Duration  time.Duration `json:"-"`
}

// Recorder receives a summary at the end of every pass
type Recorder interface {
	RecordPass(summary PassSummary)
}

// Totals accumulates pass summaries since process start
type Totals struct {
	Passes    int          `json:"passes"`
	Stopped   int          `json:"stopped"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	LastPass  *PassSummary `json:"lastPass,omitempty"`
}

// Add folds a summary into the totals
func (t *Totals) Add(p PassSummary) {
	t.Passes++
	if p.Stopped {
		t.Stopped++
	}
	t.Succeeded += p.Succeeded
	t.Failed += p.Failed
	last := p
	t.LastPass = &last
}
