package provider

import (
	"strings"
	"time"
)

// Complexity bounds for adaptive timeouts.
const (
	// MinComplexity is the floor of the complexity scale.
	MinComplexity = 1
	// MaxComplexity is the ceiling of the complexity scale.
	MaxComplexity = 10
	// minTimeout is the floor on any effective deadline.
	minTimeout = 30 * time.Second
)

// Keyword classes used by ScoreComplexity. Testing and debugging work
// reliably needs the most time; explicitly simple prompts need less.
var (
	complexKeywords = []string{
		"comprehensive", "detailed", "analyze", "implement", "create", "build",
		"generate", "design", "develop", "optimize",
	}
	simpleKeywords  = []string{"simple", "basic", "quick", "brief", "short"}
	testingKeywords = []string{"test", "debug", "troubleshoot"}
	codeKeywords    = []string{"code", "function", "class", "html", "css", "javascript"}
)

// ScoreComplexity derives a complexity score in [1..10] from prompt
// length and keyword classes. The score feeds AdaptiveTimeout and is
// raised one step by the worker after each timeout.
func ScoreComplexity(prompt string) int {
	lower := strings.ToLower(prompt)
	score := 1

	if len(prompt) > 1500 {
		score++
	}
	if len(prompt) > 3000 {
		score++
	}
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			score--
			break
		}
	}
	for _, kw := range testingKeywords {
		if strings.Contains(lower, kw) {
			score += 2
			break
		}
	}
	if strings.Contains(lower, "json") {
		score++
	}
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			score++
			break
		}
	}

	return ClampComplexity(score)
}

// ClampComplexity bounds a score to [MinComplexity, MaxComplexity].
func ClampComplexity(score int) int {
	if score < MinComplexity {
		return MinComplexity
	}
	if score > MaxComplexity {
		return MaxComplexity
	}
	return score
}

// AdaptiveTimeout scales the base timeout by a monotonic piecewise-linear
// function of the complexity score, capped at 3x base with a 30s floor.
//
//	score 1  -> 0.6x
//	score 4  -> 1.0x
//	score 7  -> 1.6x
//	score 10 -> 3.0x
func AdaptiveTimeout(base time.Duration, score int) time.Duration {
	score = ClampComplexity(score)

	var mult float64
	switch {
	case score <= 4:
		mult = 0.6 + float64(score-1)*(1.0-0.6)/3
	case score <= 7:
		mult = 1.0 + float64(score-4)*(1.6-1.0)/3
	default:
		mult = 1.6 + float64(score-7)*(3.0-1.6)/3
	}

	d := time.Duration(float64(base) * mult)
	if max := 3 * base; d > max {
		d = max
	}
	if d < minTimeout {
		d = minTimeout
	}
	return d
}
