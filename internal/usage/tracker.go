// Package usage keeps a bounded in-memory ring of API-call records with
// advisory cost attribution. The authoritative billing source remains the
// worker's per-turn UsageInfo; this tracker exists for operator dashboards
// and the usage CLI.
package usage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRecords caps the ring when no explicit cap is configured.
const DefaultMaxRecords = 10000

// Record is one completed API call.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SessionID    string    `json:"sessionId"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	TotalTokens  int64     `json:"totalTokens"`
	Cost         float64   `json:"cost"`
	LatencyMS    int64     `json:"latencyMs"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"errorCode,omitempty"`
}

// Call describes an API call to record; cost is derived at insertion.
type Call struct {
	Provider     string
	Model        string
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
	Success      bool
	ErrorCode    string
}

// ProviderStats aggregates one provider's bucket.
type ProviderStats struct {
	Calls         int64   `json:"calls"`
	Tokens        int64   `json:"tokens"`
	Cost          float64 `json:"cost"`
	MeanLatencyMS float64 `json:"meanLatencyMs"`
}

// Stats is the aggregation over a time range.
type Stats struct {
	TotalCalls    int64                    `json:"totalCalls"`
	SuccessCalls  int64                    `json:"successCalls"`
	FailedCalls   int64                    `json:"failedCalls"`
	TotalTokens   int64                    `json:"totalTokens"`
	TotalCost     float64                  `json:"totalCost"`
	MeanLatencyMS float64                  `json:"meanLatencyMs"`
	ByProvider    map[string]ProviderStats `json:"byProvider"`
}

// Tracker is a bounded FIFO of records. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records []Record
	max     int
	now     func() time.Time
}

// NewTracker creates a tracker capped at max records; max <= 0 uses the
// default cap.
func NewTracker(max int) *Tracker {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Tracker{max: max, now: time.Now}
}

// Track inserts a record, computing cost from the pricing table and
// discarding the oldest records once the cap is reached.
func (t *Tracker) Track(c Call) Record {
	rec := Record{
		ID:           uuid.NewString(),
		Timestamp:    t.now(),
		Provider:     c.Provider,
		Model:        c.Model,
		SessionID:    c.SessionID,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		TotalTokens:  c.InputTokens + c.OutputTokens,
		Cost:         Cost(c.Model, c.InputTokens, c.OutputTokens),
		LatencyMS:    c.LatencyMS,
		Success:      c.Success,
		ErrorCode:    c.ErrorCode,
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	if len(t.records) > t.max {
		t.records = t.records[len(t.records)-t.max:]
	}
	t.mu.Unlock()

	return rec
}

// Len returns the number of retained records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Stats aggregates records whose timestamp falls within [from, to],
// inclusive on both ends. Zero from/to values disable that bound. An empty
// selection yields the zero stats with an initialized provider map.
func (t *Tracker) Stats(from, to time.Time) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{ByProvider: make(map[string]ProviderStats)}
	var latencySum int64
	latencyByProvider := make(map[string]int64)

	for _, r := range t.records {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}

		stats.TotalCalls++
		if r.Success {
			stats.SuccessCalls++
		} else {
			stats.FailedCalls++
		}
		stats.TotalTokens += r.TotalTokens
		stats.TotalCost += r.Cost
		latencySum += r.LatencyMS

		p := stats.ByProvider[r.Provider]
		p.Calls++
		p.Tokens += r.TotalTokens
		p.Cost += r.Cost
		stats.ByProvider[r.Provider] = p
		latencyByProvider[r.Provider] += r.LatencyMS
	}

	if stats.TotalCalls > 0 {
		stats.MeanLatencyMS = float64(latencySum) / float64(stats.TotalCalls)
	}
	for name, p := range stats.ByProvider {
		p.MeanLatencyMS = float64(latencyByProvider[name]) / float64(p.Calls)
		stats.ByProvider[name] = p
	}
	return stats
}
