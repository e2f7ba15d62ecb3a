// Package risk evaluates registered threshold rules against portfolio
// snapshots and fans breach alerts out to notification channels by severity.
package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Severity grades a rule breach.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Snapshot is a point-in-time view of portfolio and market state, assembled
// by the caller from ledger and market data. Predicates read it; nothing
// here points back into live engine state.
type Snapshot struct {
	Timestamp       time.Time
	TotalValue      float64
	PeakValue       float64
	Drawdown        float64
	Cash            float64
	LargestPosition float64 // market value of the largest single position
	PositionRatio   float64 // LargestPosition / TotalValue
	Volatility      float64 // realized volatility of period returns
}

// Predicate reports whether a rule is breached for the given snapshot.
type Predicate func(s Snapshot) (bool, error)

// Rule is one registered risk check.
type Rule struct {
	ID        string
	Severity  Severity
	Message   string
	Predicate Predicate
}

// Breach records one rule violation.
type Breach struct {
	RuleID    string
	Severity  Severity
	Message   string
	Timestamp time.Time
	Snapshot  Snapshot
	Count     int // running breach count for this rule
}

// Evaluator runs registered rules against snapshots. Rules are evaluated
// independently: a predicate failure is logged and does not stop the batch.
type Evaluator struct {
	mu       sync.Mutex
	rules    map[string]Rule
	breaches map[string]*Breach // latest breach per rule, with running count
	notifier *Router
	log      *slog.Logger
}

// NewEvaluator creates an Evaluator that fans alerts out through notifier.
// A nil notifier disables notifications.
func NewEvaluator(notifier *Router, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		rules:    make(map[string]Rule),
		breaches: make(map[string]*Breach),
		notifier: notifier,
		log:      log.With("component", "risk"),
	}
}

// RegisterRule adds a rule. Re-registering an existing ID overwrites it; the
// rule's breach counter is preserved.
func (e *Evaluator) RegisterRule(id string, predicate Predicate, severity Severity, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[id] = Rule{ID: id, Severity: severity, Message: message, Predicate: predicate}
	e.log.Debug("risk rule registered", "rule", id, "severity", severity)
}

// Thresholds holds the configurable limits behind the default rules.
type Thresholds struct {
	MaxDrawdown      float64 // default 0.08
	MaxPositionRatio float64 // default 0.25
	MaxVolatility    float64 // default 0.04
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDrawdown:      0.08,
		MaxPositionRatio: 0.25,
		MaxVolatility:    0.04,
	}
}

// RegisterDefaultRules installs the three stock rules with the given
// thresholds: drawdown (high), single-position concentration (medium), and
// realized volatility (low).
func (e *Evaluator) RegisterDefaultRules(t Thresholds) {
	e.RegisterRule("maxDrawdown", func(s Snapshot) (bool, error) {
		return s.Drawdown > t.MaxDrawdown, nil
	}, SeverityHigh, fmt.Sprintf("drawdown exceeds %.0f%% limit", t.MaxDrawdown*100))

	e.RegisterRule("maxPositionRatio", func(s Snapshot) (bool, error) {
		return s.PositionRatio > t.MaxPositionRatio, nil
	}, SeverityMedium, fmt.Sprintf("single position exceeds %.0f%% of portfolio", t.MaxPositionRatio*100))

	e.RegisterRule("highVolatility", func(s Snapshot) (bool, error) {
		return s.Volatility > t.MaxVolatility, nil
	}, SeverityLow, "realized volatility above threshold")
}

// EvaluateAll runs every registered rule against the snapshot and returns
// the breaches it produced, in rule-ID order. Each breach increments the
// rule's running counter, records the latest breach, and is fanned out to
// the notification channels mapped to its severity.
func (e *Evaluator) EvaluateAll(snapshot Snapshot) []Breach {
	e.mu.Lock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rules := make([]Rule, 0, len(ids))
	for _, id := range ids {
		rules = append(rules, e.rules[id])
	}
	e.mu.Unlock()

	var out []Breach
	for _, rule := range rules {
		breached, err := rule.Predicate(snapshot)
		if err != nil {
			// A failing predicate is that rule's problem only.
			e.log.Error("risk rule evaluation failed", "rule", rule.ID, "err", err)
			continue
		}
		if !breached {
			continue
		}

		e.mu.Lock()
		rec, ok := e.breaches[rule.ID]
		if !ok {
			rec = &Breach{RuleID: rule.ID}
			e.breaches[rule.ID] = rec
		}
		rec.Count++
		rec.Severity = rule.Severity
		rec.Message = rule.Message
		rec.Timestamp = snapshot.Timestamp
		rec.Snapshot = snapshot
		breach := *rec
		e.mu.Unlock()

		e.log.Warn("risk rule breached",
			"rule", rule.ID, "severity", rule.Severity, "count", breach.Count)
		if e.notifier != nil {
			e.notifier.Dispatch(Alert{
				RuleID:    rule.ID,
				Severity:  rule.Severity,
				Message:   rule.Message,
				Timestamp: snapshot.Timestamp,
				Snapshot:  snapshot,
			})
		}
		out = append(out, breach)
	}
	return out
}

// BreachCount returns the running breach count for a rule ID.
func (e *Evaluator) BreachCount(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.breaches[ruleID]; ok {
		return rec.Count
	}
	return 0
}

// Breaches returns a copy of the latest breach per rule, sorted by rule ID.
func (e *Evaluator) Breaches() []Breach {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Breach, 0, len(e.breaches))
	for _, rec := range e.breaches {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}
