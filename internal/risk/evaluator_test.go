package risk

import (
	"errors"
	"testing"
	"time"
)

// stubChannel records delivered alerts for routing assertions.
type stubChannel struct {
	name   string
	alerts []Alert
	err    error
}

func (c *stubChannel) Name() string { return c.name }
func (c *stubChannel) Notify(a Alert) error {
	c.alerts = append(c.alerts, a)
	return c.err
}

func newTestRouter(channels ...*stubChannel) *Router {
	r := NewRouter(nil)
	for _, c := range channels {
		r.AddChannel(c)
	}
	return r
}

func TestDrawdownRuleBreach(t *testing.T) {
	// Threshold 0.08, snapshot drawdown 0.10: exactly one breach for
	// maxDrawdown at high severity.
	e := NewEvaluator(nil, nil)
	e.RegisterDefaultRules(DefaultThresholds())

	snap := Snapshot{
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Drawdown:  0.10,
	}
	breaches := e.EvaluateAll(snap)

	if len(breaches) != 1 {
		t.Fatalf("breaches = %d, want 1", len(breaches))
	}
	b := breaches[0]
	if b.RuleID != "maxDrawdown" {
		t.Errorf("rule = %q, want maxDrawdown", b.RuleID)
	}
	if b.Severity != SeverityHigh {
		t.Errorf("severity = %q, want high", b.Severity)
	}
	if b.Count != 1 {
		t.Errorf("count = %d, want 1", b.Count)
	}

	// The counter increments on repeated evaluation.
	e.EvaluateAll(snap)
	if got := e.BreachCount("maxDrawdown"); got != 2 {
		t.Errorf("breach count after second evaluation = %d, want 2", got)
	}
}

func TestNoBreachBelowThresholds(t *testing.T) {
	e := NewEvaluator(nil, nil)
	e.RegisterDefaultRules(DefaultThresholds())

	breaches := e.EvaluateAll(Snapshot{Drawdown: 0.05, PositionRatio: 0.1, Volatility: 0.01})
	if len(breaches) != 0 {
		t.Errorf("breaches = %v, want none", breaches)
	}
}

func TestPredicateFailureIsIsolated(t *testing.T) {
	e := NewEvaluator(nil, nil)
	e.RegisterRule("broken", func(Snapshot) (bool, error) {
		return false, errors.New("predicate blew up")
	}, SeverityLow, "broken rule")
	e.RegisterRule("working", func(Snapshot) (bool, error) {
		return true, nil
	}, SeverityLow, "working rule")

	breaches := e.EvaluateAll(Snapshot{})
	if len(breaches) != 1 || breaches[0].RuleID != "working" {
		t.Errorf("breaches = %+v, want only the working rule", breaches)
	}
	if e.BreachCount("broken") != 0 {
		t.Error("failed predicate recorded a breach")
	}
}

func TestRegisterRuleOverwrites(t *testing.T) {
	e := NewEvaluator(nil, nil)
	e.RegisterRule("r", func(Snapshot) (bool, error) { return true, nil }, SeverityLow, "v1")
	e.RegisterRule("r", func(Snapshot) (bool, error) { return false, nil }, SeverityHigh, "v2")

	if breaches := e.EvaluateAll(Snapshot{}); len(breaches) != 0 {
		t.Errorf("overwritten rule still breaching: %+v", breaches)
	}
}

func TestSeverityRouting(t *testing.T) {
	logCh := &stubChannel{name: "log"}
	journalCh := &stubChannel{name: "journal"}
	webhookCh := &stubChannel{name: "webhook"}
	router := newTestRouter(logCh, journalCh, webhookCh)

	router.Dispatch(Alert{RuleID: "a", Severity: SeverityHigh})
	router.Dispatch(Alert{RuleID: "b", Severity: SeverityMedium})
	router.Dispatch(Alert{RuleID: "c", Severity: SeverityLow})

	if got := len(logCh.alerts); got != 3 {
		t.Errorf("log channel alerts = %d, want 3", got)
	}
	if got := len(journalCh.alerts); got != 2 {
		t.Errorf("journal channel alerts = %d, want 2", got)
	}
	if got := len(webhookCh.alerts); got != 1 {
		t.Errorf("webhook channel alerts = %d, want 1", got)
	}
}

func TestRoutingOverride(t *testing.T) {
	logCh := &stubChannel{name: "log"}
	webhookCh := &stubChannel{name: "webhook"}
	router := newTestRouter(logCh, webhookCh)
	router.SetRoute(SeverityLow, []string{"webhook"})

	router.Dispatch(Alert{Severity: SeverityLow})

	if len(webhookCh.alerts) != 1 {
		t.Error("override route not honored")
	}
	if len(logCh.alerts) != 0 {
		t.Error("old route still active after override")
	}
}

func TestFailingChannelDoesNotBlockOthers(t *testing.T) {
	failing := &stubChannel{name: "log", err: errors.New("delivery failed")}
	journalCh := &stubChannel{name: "journal"}
	router := newTestRouter(failing, journalCh)

	router.Dispatch(Alert{Severity: SeverityMedium})

	if len(journalCh.alerts) != 1 {
		t.Error("failing channel blocked delivery to the next channel")
	}
}

func TestEvaluatorDispatchesThroughRouter(t *testing.T) {
	logCh := &stubChannel{name: "log"}
	router := newTestRouter(logCh)
	e := NewEvaluator(router, nil)
	e.RegisterDefaultRules(DefaultThresholds())

	e.EvaluateAll(Snapshot{Volatility: 0.05})

	if len(logCh.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(logCh.alerts))
	}
	if logCh.alerts[0].RuleID != "highVolatility" {
		t.Errorf("alert rule = %q", logCh.alerts[0].RuleID)
	}
}
