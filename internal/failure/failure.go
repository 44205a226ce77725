// Package failure tracks per-item failures and the fleet circuit breaker.
//
// Two layers of defense against retry storms: each item carries an
// exponential backoff and an escalation cap, and independently a
// fleet-wide breaker counts failures in a rolling window and suppresses
// all new spawns once it trips. The breaker resets only on an explicit
// operator signal; infrastructure problems do not fix themselves with
// time.
package failure

import (
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/state"
)

// Class categorizes why an attempt failed.
type Class string

const (
	// ClassTransient covers crashes and reclaims worth retrying.
	ClassTransient Class = "transient"

	// ClassStuck covers heartbeat and progress staleness.
	ClassStuck Class = "stuck"

	// ClassStructural covers budget and review-cycle exhaustion; the
	// item needs decomposition, not another attempt.
	ClassStructural Class = "structural"
)

// Record tracks one item's failure history.
type Record struct {
	ItemID       string    `json:"item_id"`
	Attempts     int       `json:"attempts"`
	LastFailure  time.Time `json:"last_failure"`
	BackoffUntil time.Time `json:"backoff_until"`
	Class        Class     `json:"class"`
}

// doc is the failures.json document: per-item records plus the breaker's
// rolling window, persisted together so both survive restarts.
type doc struct {
	Records  map[string]*Record `json:"records"`
	Failures []time.Time        `json:"breaker_failures"`
	Tripped  bool               `json:"breaker_tripped"`
}

func defaultDoc() *doc {
	return &doc{Records: make(map[string]*Record)}
}

// Config carries the failure-policy knobs.
type Config struct {
	// BackoffBase is the first retry delay; attempt n waits
	// base * 2^min(n, BackoffCap).
	BackoffBase time.Duration

	// BackoffCap bounds the exponent so delays stop growing.
	BackoffCap int

	// EscalationCap is the attempt count at which an item stops being
	// retried and gets escalated instead.
	EscalationCap int

	// BreakerWindow is the rolling window the breaker counts over.
	BreakerWindow time.Duration

	// BreakerThreshold is the failure count that trips the breaker.
	BreakerThreshold int
}

// Tracker persists failure records and the breaker for one fleet root.
type Tracker struct {
	cfg   Config
	store *state.Manager[doc]
}

// NewTracker returns a Tracker backed by failures.json under root.
func NewTracker(root string, cfg Config) *Tracker {
	return &Tracker{
		cfg:   cfg,
		store: state.NewManager(constants.DaemonDir(root), constants.FileFailures, defaultDoc),
	}
}

// Backoff returns the delay applied after the given attempt count.
func (t *Tracker) Backoff(attempts int) time.Duration {
	exp := attempts
	if exp > t.cfg.BackoffCap {
		exp = t.cfg.BackoffCap
	}
	return t.cfg.BackoffBase * (1 << exp)
}

// RecordFailure notes a failed attempt on an item, advancing its
// backoff. Returns the updated record. The fleet breaker counts
// separately; the daemon feeds it on the same failures.
func (t *Tracker) RecordFailure(itemID string, class Class, now time.Time) (*Record, error) {
	d, _ := t.store.Load()

	rec, ok := d.Records[itemID]
	if !ok {
		rec = &Record{ItemID: itemID}
		d.Records[itemID] = rec
	}
	rec.Attempts++
	rec.LastFailure = now.UTC()
	rec.Class = class
	rec.BackoffUntil = now.UTC().Add(t.Backoff(rec.Attempts))

	if err := t.store.Save(d); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record for an item, if any.
func (t *Tracker) Get(itemID string) (*Record, bool) {
	d, _ := t.store.Load()
	rec, ok := d.Records[itemID]
	return rec, ok
}

// Attempts returns how many failed attempts an item has accumulated.
func (t *Tracker) Attempts(itemID string) int {
	rec, ok := t.Get(itemID)
	if !ok {
		return 0
	}
	return rec.Attempts
}

// InBackoff reports whether the item's backoff is still running, and
// when it ends.
func (t *Tracker) InBackoff(itemID string, now time.Time) (bool, time.Time) {
	rec, ok := t.Get(itemID)
	if !ok {
		return false, time.Time{}
	}
	return now.Before(rec.BackoffUntil), rec.BackoffUntil
}

// ShouldEscalate reports whether the item has hit the escalation cap.
// An escalated item is marked blocked with a decomposition request
// instead of being retried; remaining backoff budget is irrelevant.
func (t *Tracker) ShouldEscalate(itemID string) bool {
	return t.Attempts(itemID) >= t.cfg.EscalationCap
}

// ClearItem forgets an item's failure history after a success or no-op.
func (t *Tracker) ClearItem(itemID string) error {
	d, _ := t.store.Load()
	if _, ok := d.Records[itemID]; !ok {
		return nil
	}
	delete(d.Records, itemID)
	return t.store.Save(d)
}

// Records returns every failure record keyed by item.
func (t *Tracker) Records() map[string]*Record {
	d, _ := t.store.Load()
	return d.Records
}

// Reset forgets all per-item failure history.
func (t *Tracker) Reset() error {
	d, _ := t.store.Load()
	d.Records = make(map[string]*Record)
	return t.store.Save(d)
}

// Breaker returns the fleet circuit breaker sharing this tracker's
// persistence.
func (t *Tracker) Breaker() *Breaker {
	return &Breaker{cfg: t.cfg, store: t.store}
}

// Breaker is the fleet-wide circuit breaker. It counts failures in a
// rolling window; when the count reaches the threshold it trips and
// suppresses all new spawns until an operator resets it.
type Breaker struct {
	cfg   Config
	store *state.Manager[doc]
}

// RecordFailure appends a failure to the rolling window, pruning entries
// older than the window, and trips the breaker at the threshold.
func (b *Breaker) RecordFailure(now time.Time) error {
	d, _ := b.store.Load()
	d.Failures = append(b.prune(d.Failures, now), now.UTC())
	if len(d.Failures) >= b.cfg.BreakerThreshold {
		d.Tripped = true
	}
	return b.store.Save(d)
}

// prune drops window entries older than the breaker window.
func (b *Breaker) prune(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-b.cfg.BreakerWindow)
	var kept []time.Time
	for _, f := range failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}

// Tripped reports whether the breaker is open. Once tripped it stays
// open across restarts; the window emptying with time does not close it.
func (b *Breaker) Tripped() bool {
	d, _ := b.store.Load()
	return d.Tripped
}

// WindowCount returns how many failures fall inside the rolling window
// at now.
func (b *Breaker) WindowCount(now time.Time) int {
	d, _ := b.store.Load()
	return len(b.prune(d.Failures, now))
}

// Reset closes the breaker and clears the rolling window. This is the
// only way the breaker closes; it is wired to an explicit operator
// command, never a timer.
func (b *Breaker) Reset() error {
	d, _ := b.store.Load()
	d.Tripped = false
	d.Failures = nil
	return b.store.Save(d)
}
