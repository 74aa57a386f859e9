package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/pkg/models"
)

const (
	// DefaultEvaluationTimeout bounds each candidate's should-speak call.
	DefaultEvaluationTimeout = 5 * time.Second

	// DefaultSilenceThreshold is the minimum confidence to speak.
	DefaultSilenceThreshold = 0.3

	// evalMaxTokens and evalTemperature keep the evaluation call short and
	// consistent.
	evalMaxTokens   = 150
	evalTemperature = 0.3

	// evalHistoryMessages caps the transcript excerpt in the prompt.
	evalHistoryMessages = 10
)

// SpeakingEvaluator decides, per available model, whether it should
// contribute this turn. Candidates are queried in parallel under a bounded
// timeout; failures default to speaking so one flaky provider cannot mute
// the conversation.
type SpeakingEvaluator struct {
	threshold float64
	timeout   time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// EvaluatorConfig configures a SpeakingEvaluator.
type EvaluatorConfig struct {
	// SilenceThreshold is the minimum confidence to speak. Default 0.3.
	SilenceThreshold float64

	// Timeout bounds each candidate's evaluation call. Default 5s.
	Timeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewSpeakingEvaluator creates an evaluator over the registered clients.
func NewSpeakingEvaluator(cfg EvaluatorConfig) *SpeakingEvaluator {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEvaluationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &SpeakingEvaluator{
		threshold: cfg.SilenceThreshold,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.WithFields("component", "orchestrator.evaluator"),
		metrics:   cfg.Metrics,
	}
}

// EvaluateAll returns a decision per given client, sorted by confidence
// descending with forced decisions first among ties. Forced models never hit
// their provider.
func (e *SpeakingEvaluator) EvaluateAll(
	ctx context.Context,
	available []providers.ModelClient,
	conversation []models.Message,
	userMessage string,
	previous []priorResponse,
	forcedSpeakers []string,
) []SpeakerDecision {
	forced := make(map[string]bool, len(forcedSpeakers))
	for _, m := range forcedSpeakers {
		forced[m] = true
	}

	decisions := make([]SpeakerDecision, len(available))

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range available {
		if forced[client.ID()] {
			decisions[i] = ForcedDecision(client.ID())
			e.recordOutcome(client.ID(), "forced")
			continue
		}
		g.Go(func() error {
			decisions[i] = e.evaluateOne(gctx, client, available, conversation, userMessage, previous)
			return nil
		})
	}
	// Candidates never return errors; failures become default-speak
	// decisions.
	_ = g.Wait()

	sort.SliceStable(decisions, func(i, j int) bool {
		if decisions[i].Confidence != decisions[j].Confidence {
			return decisions[i].Confidence > decisions[j].Confidence
		}
		return decisions[i].Forced && !decisions[j].Forced
	})
	return decisions
}

func (e *SpeakingEvaluator) evaluateOne(
	ctx context.Context,
	client providers.ModelClient,
	available []providers.ModelClient,
	conversation []models.Message,
	userMessage string,
	previous []priorResponse,
) SpeakerDecision {
	others := make([]string, 0, len(available)-1)
	for _, c := range available {
		if c.ID() != client.ID() {
			others = append(others, c.DisplayName())
		}
	}

	prompt := formatShouldSpeakPrompt(
		client.DisplayName(), others,
		formatConversation(conversation, evalHistoryMessages),
		userMessage, previous,
	)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	temp := float64(evalTemperature)
	resp, err := client.Generate(ctx, &providers.Request{
		Messages:    []models.Message{{Role: models.RoleUser, Content: prompt}},
		MaxTokens:   evalMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn(ctx, "evaluation timed out", "model", client.ID())
			e.recordOutcome(client.ID(), "timeout")
			return SpeakDecision(client.ID(), 0.5, "evaluation timed out - defaulting to speak")
		}
		e.logger.Warn(ctx, "evaluation failed", "model", client.ID(), "error", err)
		e.recordOutcome(client.ID(), "malformed")
		return SpeakDecision(client.ID(), 0.5, "evaluation failed - defaulting to speak")
	}

	verdict, ok := parseShouldSpeak(resp.Content)
	if !ok {
		e.logger.Warn(ctx, "unparseable evaluation response",
			"model", client.ID(), "content", truncate(resp.Content, 100))
		e.recordOutcome(client.ID(), "malformed")
		return SpeakDecision(client.ID(), 0.5, "could not parse response - defaulting to speak")
	}

	decision := SpeakerDecision{
		Model:      client.ID(),
		WillSpeak:  verdict.ShouldSpeak,
		Confidence: clamp01(verdict.Confidence),
		Reason:     verdict.Reason,
	}
	if decision.WillSpeak && decision.Confidence < e.threshold {
		decision = SilentDecision(client.ID(), decision.Confidence,
			fmt.Sprintf("below threshold (%.2f < %.2f)", decision.Confidence, e.threshold))
	}

	if decision.WillSpeak {
		e.recordOutcome(client.ID(), "speak")
	} else {
		e.recordOutcome(client.ID(), "silent")
	}
	return decision
}

func (e *SpeakingEvaluator) recordOutcome(model, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordDecision(model, outcome)
	}
}

// shouldSpeakVerdict is the JSON object candidates are instructed to emit.
type shouldSpeakVerdict struct {
	ShouldSpeak bool    `json:"should_speak"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	inlineJSONPattern = regexp.MustCompile(`(?s)\{[^{}]*"should_speak"[^{}]*\}`)
	pyTruePattern     = regexp.MustCompile(`\bTrue\b`)
	pyFalsePattern    = regexp.MustCompile(`\bFalse\b`)
)

// parseShouldSpeak extracts the verdict from free-form model output. Parse
// attempts, in order: direct JSON, fenced code block, substring keyed on
// "should_speak", single-quote normalization, and Python boolean literals.
func parseShouldSpeak(content string) (shouldSpeakVerdict, bool) {
	content = strings.TrimSpace(content)

	candidates := []string{content}
	if m := fencedJSONPattern.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := inlineJSONPattern.FindString(content); m != "" {
		candidates = append(candidates, m)
	}
	candidates = append(candidates,
		strings.ReplaceAll(content, "'", `"`),
		pyFalsePattern.ReplaceAllString(pyTruePattern.ReplaceAllString(content, "true"), "false"),
	)

	for _, candidate := range candidates {
		var verdict shouldSpeakVerdict
		if err := json.Unmarshal([]byte(candidate), &verdict); err == nil {
			return verdict, true
		}
	}
	return shouldSpeakVerdict{}, false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
