// Package relevance scores how likely an inbox message is to be job-search mail.
// Scoring is deterministic and free of I/O so it can gate the expensive classifier.
package relevance

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// Threshold is the single job-relevance cut-off used by every caller.
	Threshold = 6
	// MaxReasons caps the reasons returned with a result.
	MaxReasons = 5

	confidenceScale = 30.0
)

// Input is the part of a message the scorer looks at.
type Input struct {
	Sender  string
	Subject string
	Snippet string
}

// Result of scoring one message.
type Result struct {
	Score        int      `json:"score"`
	IsJobRelated bool     `json:"isJobRelated"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
}

// Score evaluates the rule families against the lowercase sender, subject,
// and subject+snippet text. An excluded sender short-circuits to VetoScore.
func Score(in Input) Result {
	sender := strings.ToLower(in.Sender)
	subject := strings.ToLower(in.Subject)
	text := subject + " " + strings.ToLower(in.Snippet)

	for _, s := range excludedSenders {
		if strings.Contains(sender, s) {
			return finish(VetoScore, []string{"Excluded sender: " + s})
		}
	}

	score := 0
	var reasons []string
	inEither := func(p string) bool {
		return strings.Contains(text, p) || strings.Contains(subject, p)
	}

	for _, p := range noisePhrases {
		if inEither(p) {
			score += noisePenalty
			reasons = append(reasons, fmt.Sprintf("Not job: %q", p))
		}
	}

	for _, p := range jobSenderPatterns {
		if strings.Contains(sender, p) {
			score += senderBonus
			reasons = append(reasons, "Sender: "+p)
			break
		}
	}

	for _, k := range veryStrongPhrases {
		if inEither(k) {
			score += veryStrongWeight
			reasons = append(reasons, fmt.Sprintf("Strong: %q", k))
		}
	}

	for _, k := range strongPhrases {
		if inEither(k) {
			score += strongWeight
			reasons = append(reasons, fmt.Sprintf("Match: %q", k))
		}
	}

	for _, k := range moderateKeywords {
		if strings.Contains(text, k) {
			score += moderateWeight
		}
	}

	for _, k := range spamPhrases {
		if strings.Contains(text, k) {
			score += spamPenalty
			reasons = append(reasons, fmt.Sprintf("Spam: %q", k))
		}
	}

	for _, w := range subjectWords {
		if strings.Contains(subject, w) {
			score += subjectBonus
			break
		}
	}

	return finish(score, reasons)
}

func finish(score int, reasons []string) Result {
	if len(reasons) > MaxReasons {
		reasons = reasons[:MaxReasons]
	}
	if reasons == nil {
		reasons = []string{}
	}
	return Result{
		Score:        score,
		IsJobRelated: score >= Threshold,
		Confidence:   clamp(float64(score)/confidenceScale, 0, 1),
		Reasons:      reasons,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Scored pairs an input index with its result.
type Scored struct {
	Index  int
	Result Result
}

// Filter scores every input and keeps those at or above threshold,
// highest score first. Ties keep input order.
func Filter(inputs []Input, threshold int) []Scored {
	var out []Scored
	for i, in := range inputs {
		r := Score(in)
		if r.Score >= threshold {
			out = append(out, Scored{Index: i, Result: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Result.Score > out[j].Result.Score })
	return out
}
