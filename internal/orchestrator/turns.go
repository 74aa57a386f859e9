package orchestrator

import "sync"

// Strategy selects how contributors are ordered within a turn.
type Strategy string

const (
	// StrategyRotate starts from a rotating index into the canonical order,
	// advancing by one after each use. This is the default.
	StrategyRotate Strategy = "rotate"

	// StrategyConfidence preserves the evaluator's descending-confidence
	// order.
	StrategyConfidence Strategy = "confidence"

	// StrategyFixed filters speakers by the canonical order.
	StrategyFixed Strategy = "fixed"
)

// defaultCanonicalOrder is used when no canonical order is configured.
var defaultCanonicalOrder = []string{"claude", "gpt", "gemini", "grok"}

// TurnManager orders the contributors for a turn. The rotation index is
// process-local and never persisted.
type TurnManager struct {
	mu        sync.Mutex
	strategy  Strategy
	canonical []string
	rotation  int
}

// NewTurnManager creates a turn manager. An unknown strategy falls back to
// rotate; an empty canonical order falls back to the default model set.
func NewTurnManager(strategy Strategy, canonical []string) *TurnManager {
	switch strategy {
	case StrategyRotate, StrategyConfidence, StrategyFixed:
	default:
		strategy = StrategyRotate
	}
	if len(canonical) == 0 {
		canonical = defaultCanonicalOrder
	}
	return &TurnManager{
		strategy:  strategy,
		canonical: append([]string(nil), canonical...),
	}
}

// DetermineOrder returns the speaking order for the given decisions. Silent
// decisions are excluded. Under rotate, the rotation index advances by one.
func (t *TurnManager) DetermineOrder(decisions []SpeakerDecision) []string {
	speakers := make([]string, 0, len(decisions))
	for _, d := range decisions {
		if d.WillSpeak {
			speakers = append(speakers, d.Model)
		}
	}
	if len(speakers) == 0 {
		return nil
	}

	switch t.strategy {
	case StrategyConfidence:
		// Decisions arrive sorted by confidence descending.
		return speakers
	case StrategyFixed:
		return t.filterByCanonical(speakers, 0)
	default:
		t.mu.Lock()
		start := t.rotation % len(t.canonical)
		t.rotation = (t.rotation + 1) % len(t.canonical)
		t.mu.Unlock()
		return t.filterByCanonical(speakers, start)
	}
}

// filterByCanonical orders speakers by the canonical order rotated to start
// at the given index. Speakers not in the canonical order are dropped.
func (t *TurnManager) filterByCanonical(speakers []string, start int) []string {
	speakerSet := make(map[string]bool, len(speakers))
	for _, s := range speakers {
		speakerSet[s] = true
	}
	ordered := make([]string, 0, len(speakers))
	for i := range t.canonical {
		model := t.canonical[(start+i)%len(t.canonical)]
		if speakerSet[model] {
			ordered = append(ordered, model)
		}
	}
	return ordered
}

// FirstResponder returns the model the rotation currently points at.
func (t *TurnManager) FirstResponder() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canonical[t.rotation%len(t.canonical)]
}

// PeekNextFirstResponder returns who would lead after the next rotation,
// without advancing it.
func (t *TurnManager) PeekNextFirstResponder() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canonical[(t.rotation+1)%len(t.canonical)]
}

// SetFirstResponder points the rotation at the given model. Unknown models
// are ignored.
func (t *TurnManager) SetFirstResponder(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.canonical {
		if m == model {
			t.rotation = i
			return
		}
	}
}

// ResetRotation zeroes the rotation index.
func (t *TurnManager) ResetRotation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotation = 0
}
