package cost

import "github.com/anthropics/claude-orchestrator/engine/contracts"

const defaultCharsPerToken = 4

// tokenEstimator implements contracts.TokenEstimator using a
// character-based heuristic. Estimates feed only the admission pre-check;
// accounting always uses the tool-reported number.
type tokenEstimator struct {
	charsPerToken int
}

// NewTokenEstimator creates a TokenEstimator with the default ratio.
func NewTokenEstimator() contracts.TokenEstimator {
	return &tokenEstimator{charsPerToken: defaultCharsPerToken}
}

// NewTokenEstimatorWithRatio creates a TokenEstimator with a custom
// chars-per-token ratio.
func NewTokenEstimatorWithRatio(charsPerToken int) contracts.TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &tokenEstimator{charsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for the prompt.
func (e *tokenEstimator) Estimate(prompt string) contracts.TokenCount {
	tokens := len(prompt) / e.charsPerToken

	// Minimum 1 token for non-empty input (prevents budget bypass on
	// small requests).
	if len(prompt) > 0 && tokens == 0 {
		tokens = 1
	}
	return contracts.TokenCount(tokens)
}
