package classifier

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	bodyExcerptLimit = 1200
	tokensPerMessage = 150
)

// Prompt is one provider request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

const systemInstruction = `Categorize job emails. CRITICAL RULES: "regret to inform" or "not selected" = REJECTION. ` +
	`"Thank you for applying" without rejection = APPLICATION_RECEIVED. ` +
	`STATUS_UPDATE is ONLY for mid-process updates like "still reviewing". Respond with JSON array only.`

const categoryRules = `Categorize each email into exactly ONE category.

CATEGORY RULES (check in this order, use FIRST match):
1. REJECTION - "regret to inform", "not selected", "not moving forward", "decided not to proceed", "other candidates", "position filled", "unfortunately", "will not be moving forward", "not be able to offer"
2. OFFER - Explicit job offer with compensation/salary details
3. OA_REQUIRED - Contains coding challenge link (HackerRank, Codility, CodeSignal, LeetCode) or assessment request
4. INTERVIEW_SCHEDULE - Asking to pick/schedule interview time
5. INTERVIEW_CONFIRMATION - Interview already scheduled with specific date/time
6. FOLLOW_UP - Requesting documents, references, or specific action from you
7. APPLICATION_RECEIVED - "thank you for applying", "thanks for your interest", "application received", "we received your application" (ONLY if no rejection language)
8. RECRUITER_OUTREACH - Cold outreach, job board emails, "your profile matches"
9. NOT_JOB_RELATED - School forums, social network notifications, social media
10. STATUS_UPDATE - ONLY if none of above fit. Mid-process updates like "still reviewing", "moved to next round"

CRITICAL RULES:
- "regret to inform" or "not been selected" = REJECTION (never STATUS_UPDATE)
- "thank you for your interest" + rejection language = REJECTION
- "thank you for applying" alone = APPLICATION_RECEIVED`

const responseExample = `JSON array response (no markdown):
[{"email":1,"category":"CATEGORY","confidence":0.9,"company":"Name","action_needed":null}]`

// BuildPrompt renders one request covering every message in batch.
func BuildPrompt(batch []Excerpt) Prompt {
	var b strings.Builder
	b.WriteString(categoryRules)
	b.WriteString("\n\n")
	for i, m := range batch {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[EMAIL %d]\nFROM: %s\nSUBJECT: %s\nBODY: %s %s",
			i+1, m.Sender, m.Subject, m.Snippet, truncate(m.Body, bodyExcerptLimit))
	}
	b.WriteString("\n\n")
	b.WriteString(responseExample)

	return Prompt{
		System:    systemInstruction,
		User:      b.String(),
		MaxTokens: tokensPerMessage * len(batch),
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
