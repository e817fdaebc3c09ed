package usecase

import (
	"regexp"
	"strings"
)

// Sender detection patterns, tried in order. The first accepted candidate
// wins; candidates hitting the stop list fall through to the next pattern.
var senderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)emails?\s+from\s+(.+)`),
	regexp.MustCompile(`(?i)sent\s+by\s+(.+)`),
	regexp.MustCompile(`(?i)(?:show|find|list|get|give\s+me|what|any)\b.*?\bfrom\s+(.+)`),
	regexp.MustCompile(`(?i)^from\s+(.+)`),
}

// Words that look like sender candidates but describe the query itself:
// pronouns, date words, inbox-state words.
var senderStopWords = map[string]bool{
	"me": true, "my": true, "him": true, "her": true, "them": true,
	"us": true, "you": true, "anyone": true, "someone": true, "everyone": true,
	"today": true, "yesterday": true, "tomorrow": true,
	"week": true, "month": true, "morning": true, "tonight": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"inbox": true, "unread": true, "read": true, "work": true,
	"this week": true, "last week": true, "this month": true, "last month": true,
}

var hasDigit = regexp.MustCompile(`\d`)

// DetectSender extracts the sender a query is scoped to, if any.
func DetectSender(query string) (string, bool) {
	for _, re := range senderPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		cand := strings.TrimSpace(m[1])
		cand = strings.TrimRight(cand, "?.!,;: ")
		lower := strings.ToLower(cand)
		if len(cand) < 2 || senderStopWords[lower] || hasDigit.MatchString(cand) {
			continue
		}
		return cand, true
	}
	return "", false
}

// Honorifics and common South Asian name prefixes that may be glued to a
// name in queries like "drsmith" or "mdrahman".
var namePrefixes = []string{"dr", "mr", "mrs", "ms", "prof", "md", "sk"}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// canonical lowercases and strips everything but letters and digits.
func canonical(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

var punct = regexp.MustCompile(`[._\-'"]`)

// senderQueryVariants generates the matchable forms of a sender query:
// the raw string, its punctuation-stripped form, prefix splits for
// no-space terms, and per-token plus concatenated forms for spaced terms.
func senderQueryVariants(q string) []string {
	q = strings.ToLower(strings.TrimSpace(q))
	variants := []string{q}
	stripped := strings.TrimSpace(punct.ReplaceAllString(q, " "))
	if stripped != q && stripped != "" {
		variants = append(variants, stripped)
	}
	if !strings.Contains(q, " ") {
		for _, p := range namePrefixes {
			rest := strings.TrimPrefix(q, p)
			if rest != q && len(rest) >= 3 {
				variants = append(variants, rest, p+" "+rest)
			}
		}
	} else {
		var tokens []string
		for _, tok := range strings.Fields(stripped) {
			if len(tok) >= 3 {
				tokens = append(tokens, tok)
			}
		}
		variants = append(variants, tokens...)
		if len(tokens) > 1 {
			variants = append(variants, strings.Join(tokens, ""))
		}
	}
	return variants
}

// parseSenderHeader splits an RFC 5322 From value into display name, email
// address and local part. Any of them may be empty.
func parseSenderHeader(sender string) (display, email, local string) {
	if i := strings.Index(sender, "<"); i >= 0 {
		display = strings.Trim(strings.TrimSpace(sender[:i]), `"`)
		if j := strings.Index(sender[i:], ">"); j > 0 {
			email = sender[i+1 : i+j]
		}
	} else if strings.Contains(sender, "@") {
		email = strings.TrimSpace(sender)
	} else {
		display = strings.TrimSpace(sender)
	}
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	return display, email, local
}

// MatchesSender reports whether a stored sender header matches the query.
// Single-term queries match when any canonical variant is a substring of
// the canonical email, display name (with or without spaces) or local
// part. Multi-word queries additionally require every significant token to
// appear somewhere in the combined sender text.
func MatchesSender(senderHeader, query string) bool {
	display, email, local := parseSenderHeader(senderHeader)
	targets := []string{
		canonical(email),
		canonical(display),
		canonical(strings.ReplaceAll(display, " ", "")),
		canonical(local),
	}

	blob := canonical(display + email)
	tokens := significantTokens(query)
	if len(tokens) >= 2 {
		for _, tok := range tokens {
			if !strings.Contains(blob, canonical(tok)) {
				return false
			}
		}
		return true
	}

	for _, v := range senderQueryVariants(query) {
		cv := canonical(v)
		if cv == "" {
			continue
		}
		for _, t := range targets {
			if t != "" && strings.Contains(t, cv) {
				return true
			}
		}
	}
	return false
}

func significantTokens(q string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(q)) {
		if len(tok) >= 3 {
			out = append(out, tok)
		}
	}
	return out
}
