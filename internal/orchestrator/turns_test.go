package orchestrator

import (
	"reflect"
	"testing"
)

func speakAll(ms ...string) []SpeakerDecision {
	out := make([]SpeakerDecision, len(ms))
	for i, m := range ms {
		out[i] = SpeakDecision(m, 0.8, "test")
	}
	return out
}

// TestRotateStrategy tests that the first responder advances each turn.
func TestRotateStrategy(t *testing.T) {
	tm := NewTurnManager(StrategyRotate, []string{"claude", "gpt", "gemini"})

	want := [][]string{
		{"claude", "gpt", "gemini"},
		{"gpt", "gemini", "claude"},
		{"gemini", "claude", "gpt"},
		{"claude", "gpt", "gemini"},
	}
	for i, expected := range want {
		got := tm.DetermineOrder(speakAll("claude", "gpt", "gemini"))
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("turn %d order = %v, want %v", i, got, expected)
		}
	}
}

// TestRotateFairness tests that over K full-set turns every model leads
// its fair share of times.
func TestRotateFairness(t *testing.T) {
	models := []string{"claude", "gpt", "gemini", "grok"}
	tm := NewTurnManager(StrategyRotate, models)

	const turns = 20
	firsts := make(map[string]int)
	for i := 0; i < turns; i++ {
		order := tm.DetermineOrder(speakAll(models...))
		firsts[order[0]]++
	}
	for _, m := range models {
		if firsts[m] < turns/len(models) {
			t.Errorf("%s was first %d times, want at least %d", m, firsts[m], turns/len(models))
		}
	}
}

// TestRotateSkipsSilent tests ordering when only a subset speaks.
func TestRotateSkipsSilent(t *testing.T) {
	tm := NewTurnManager(StrategyRotate, []string{"claude", "gpt", "gemini"})
	tm.SetFirstResponder("gpt")

	got := tm.DetermineOrder(speakAll("claude", "gemini"))
	if !reflect.DeepEqual(got, []string{"gemini", "claude"}) {
		t.Errorf("order = %v", got)
	}
}

// TestConfidenceStrategy tests that the evaluator's order is preserved.
func TestConfidenceStrategy(t *testing.T) {
	tm := NewTurnManager(StrategyConfidence, []string{"claude", "gpt", "gemini"})

	decisions := []SpeakerDecision{
		SpeakDecision("gemini", 0.9, ""),
		SpeakDecision("claude", 0.7, ""),
		SilentDecision("gpt", 0.2, ""),
	}
	got := tm.DetermineOrder(decisions)
	if !reflect.DeepEqual(got, []string{"gemini", "claude"}) {
		t.Errorf("order = %v", got)
	}
}

// TestFixedStrategy tests canonical-order filtering.
func TestFixedStrategy(t *testing.T) {
	tm := NewTurnManager(StrategyFixed, []string{"claude", "gpt", "gemini"})

	decisions := []SpeakerDecision{
		SpeakDecision("gemini", 0.9, ""),
		SpeakDecision("claude", 0.5, ""),
	}
	for i := 0; i < 2; i++ {
		got := tm.DetermineOrder(decisions)
		if !reflect.DeepEqual(got, []string{"claude", "gemini"}) {
			t.Errorf("order = %v", got)
		}
	}
}

// TestEmptyDecisions tests that nobody speaking yields an empty order.
func TestEmptyDecisions(t *testing.T) {
	tm := NewTurnManager(StrategyRotate, []string{"claude", "gpt"})
	if got := tm.DetermineOrder([]SpeakerDecision{SilentDecision("claude", 0.1, "")}); got != nil {
		t.Errorf("order = %v, want nil", got)
	}
}

// TestRotationControls tests set, peek, and reset.
func TestRotationControls(t *testing.T) {
	tm := NewTurnManager(StrategyRotate, []string{"claude", "gpt", "gemini"})

	tm.SetFirstResponder("gemini")
	if got := tm.FirstResponder(); got != "gemini" {
		t.Errorf("first responder = %q", got)
	}
	if got := tm.PeekNextFirstResponder(); got != "claude" {
		t.Errorf("peek = %q", got)
	}
	// Peek must not advance.
	if got := tm.FirstResponder(); got != "gemini" {
		t.Errorf("first responder after peek = %q", got)
	}

	tm.ResetRotation()
	if got := tm.FirstResponder(); got != "claude" {
		t.Errorf("first responder after reset = %q", got)
	}
}

// TestUnknownStrategyFallsBack tests that bad input degrades to rotate.
func TestUnknownStrategyFallsBack(t *testing.T) {
	tm := NewTurnManager(Strategy("bogus"), []string{"claude", "gpt"})
	first := tm.DetermineOrder(speakAll("claude", "gpt"))
	second := tm.DetermineOrder(speakAll("claude", "gpt"))
	if first[0] == second[0] {
		t.Errorf("rotation did not advance: %v then %v", first, second)
	}
}
