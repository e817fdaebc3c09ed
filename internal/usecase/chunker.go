package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mailmind-app/mailmind/internal/domain"
)

var urgencyWords = []string{"urgent", "asap", "immediately", "critical"}

var deadlineFlagWords = []string{"deadline", "due"}

// Explicit date extraction, in priority order.
var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)deadline[:\s]+(\d{1,2}/\d{1,2}/\d{4})`),
	regexp.MustCompile(`(?i)due[:\s]+(\d{1,2}/\d{1,2}/\d{4})`),
	regexp.MustCompile(`(?i)deadline[:\s]+(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`(?i)due[:\s]+(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`(?i)by[:\s]+(\d{1,2}/\d{1,2}/\d{4})`),
}

// ExtractSignals derives urgency and deadline flags from message text.
// Urgency with no explicit date yields the synthetic "now" deadline.
func ExtractSignals(text string) (isUrgent, hasDeadline bool, deadlineDate string) {
	lower := strings.ToLower(text)
	for _, w := range urgencyWords {
		if strings.Contains(lower, w) {
			isUrgent = true
			break
		}
	}
	for _, w := range deadlineFlagWords {
		if strings.Contains(lower, w) {
			hasDeadline = true
			break
		}
	}
	for _, re := range deadlinePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return isUrgent, true, m[1]
		}
	}
	if isUrgent {
		return isUrgent, true, "now"
	}
	return isUrgent, hasDeadline, ""
}

// ChunkMessage renders a message into fixed-size chunks with shared
// metadata. Vectors are filled in later by the indexer. A message shorter
// than chunkSize yields exactly one chunk.
func ChunkMessage(m domain.Message, chunkSize int) []domain.ChunkPoint {
	body := m.Body
	if strings.TrimSpace(body) == "" {
		body = m.Snippet
	}
	dateStr := m.Date.UTC().Format("2006-01-02 15:04:05")
	text := fmt.Sprintf("FROM: %s\nSUBJECT: %s\nDATE: %s\n\n%s", m.Sender, m.Subject, dateStr, body)

	isUrgent, hasDeadline, deadlineDate := ExtractSignals(m.Subject + " " + body)

	// Window by runes so a multi-byte character never straddles a boundary.
	runes := []rune(text)
	var chunks []string
	for len(runes) > chunkSize {
		chunks = append(chunks, string(runes[:chunkSize]))
		runes = runes[chunkSize:]
	}
	chunks = append(chunks, string(runes))

	out := make([]domain.ChunkPoint, 0, len(chunks))
	for i, doc := range chunks {
		out = append(out, domain.ChunkPoint{
			ID:       fmt.Sprintf("%d_%d", m.ID, i),
			Document: doc,
			Meta: domain.ChunkMeta{
				MessageID:    m.ID,
				Sender:       m.Sender,
				Subject:      m.Subject,
				Date:         dateStr,
				Timestamp:    float64(m.Date.UTC().Unix()),
				IsRead:       m.IsRead,
				IsUrgent:     isUrgent,
				HasDeadline:  hasDeadline,
				DeadlineDate: deadlineDate,
				ChunkIndex:   i,
			},
		})
	}
	return out
}
