package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mailmind-app/mailmind/internal/adapter/ai/tokencount"
	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/observability"
)

// Ask outcome statuses.
const (
	AskStatusSuccess     = "success"
	AskStatusNoResults   = "no_results"
	AskStatusFallback    = "fallback"
	AskStatusRateLimited = "rate_limited"
)

const (
	promptContentChars   = 800
	fallbackBodyChars    = 500
	fallbackSnippetChars = 200
	fallbackListMax      = 10
	// A truncated context block must keep at least this many characters to
	// be worth including at all.
	minTruncatedBlock = 200
	charsPerToken     = 4
)

const systemPrompt = `You are a personal email assistant. Answer the user's question using only the email context provided. Be concise and specific: name senders, dates, and deadlines when they matter. If the context does not contain the answer, say so instead of guessing.`

const rewritePrompt = `Rewrite the user's follow-up question as a fully self-contained question, resolving pronouns and references using the conversation so far. Reply with the rewritten question only.`

// Source is one answer citation in API shape.
type Source struct {
	EmailID     int64   `json:"email_id"`
	Sender      string  `json:"sender"`
	Subject     string  `json:"subject"`
	Date        string  `json:"date"`
	Relevance   float64 `json:"relevance"`
	IsUrgent    bool    `json:"is_urgent"`
	HasDeadline bool    `json:"has_deadline"`
	Deadline    string  `json:"deadline"`
	Text        string  `json:"text"`
	Timestamp   float64 `json:"timestamp"`
}

// AskResult is the outcome of one question.
type AskResult struct {
	Answer          string
	Sources         []Source
	Status          string
	EmailsFound     int
	MatchedKeywords []string
}

// Answerer assembles retrieval context and drives the LLM, degrading to a
// deterministic fallback while the upstream rate limit cooldown is active.
type Answerer struct {
	cfg       config.Config
	retriever *Retriever
	chat      domain.ChatClient
	history   *HistoryStore
	gate      *RateLimitGate
	counter   *tokencount.Counter
	now       func() time.Time
}

// NewAnswerer wires an Answerer.
func NewAnswerer(cfg config.Config, retriever *Retriever, chat domain.ChatClient, history *HistoryStore, gate *RateLimitGate) *Answerer {
	return &Answerer{
		cfg:       cfg,
		retriever: retriever,
		chat:      chat,
		history:   history,
		gate:      gate,
		counter:   tokencount.NewCounter(),
		now:       time.Now,
	}
}

// Ask answers one question over the user's indexed mail.
func (a *Answerer) Ask(ctx domain.Context, u domain.User, question string) (AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return AskResult{}, fmt.Errorf("%w: empty question", domain.ErrInvalidArgument)
	}

	searchQuery := a.maybeRewrite(ctx, u, question)

	docs, senderFilter, err := a.retriever.Retrieve(ctx, u, searchQuery)
	if err != nil {
		return AskResult{}, err
	}

	if len(docs) == 0 {
		observability.AskRequestsTotal.WithLabelValues("no_results").Inc()
		return AskResult{Answer: noResultsMessage(senderFilter), Status: AskStatusNoResults}, nil
	}

	// "Most recent from X" narrows to the single newest message before
	// any further processing, including the rate-limit fallback.
	if senderFilter != "" && wantsMostRecent(searchQuery) {
		docs = docs[:1]
	}

	sources := toSources(docs, a.now())
	matched := matchedKeywords(searchQuery, docs)

	if a.gate.Active(u.ID) {
		observability.AskRequestsTotal.WithLabelValues("fallback").Inc()
		return AskResult{
			Answer:          fallbackAnswer(docs, a.now()) + "\n\nNote: AI answering is temporarily rate limited; showing matching emails instead.",
			Sources:         sources,
			Status:          AskStatusRateLimited,
			EmailsFound:     len(sources),
			MatchedKeywords: matched,
		}, nil
	}

	contextText := a.buildContext(docs)
	messages := a.buildMessages(u, contextText, question)

	if n, err := a.counter.CountChatTokens(toCountMessages(messages), a.cfg.ChatModel); err == nil {
		slog.Debug("ask prompt assembled", slog.String("user_id", u.ID), slog.Int("prompt_tokens", n))
	}

	answer, err := a.chat.Chat(ctx, messages, a.cfg.MaxResponseTokens)
	if err != nil {
		if isRateLimitErr(err) {
			a.gate.Record(u.ID)
			observability.AskRequestsTotal.WithLabelValues("rate_limited").Inc()
			return AskResult{
				Answer:          fallbackAnswer(docs, a.now()) + "\n\nNote: AI answering is temporarily rate limited; showing matching emails instead.",
				Sources:         sources,
				Status:          AskStatusRateLimited,
				EmailsFound:     len(sources),
				MatchedKeywords: matched,
			}, nil
		}
		return AskResult{}, err
	}

	a.history.Append(u.ID, question, answer)
	observability.AskRequestsTotal.WithLabelValues("llm").Inc()
	return AskResult{
		Answer:          answer,
		Sources:         sources,
		Status:          AskStatusSuccess,
		EmailsFound:     len(sources),
		MatchedKeywords: matched,
	}, nil
}

// matchedKeywords lists the significant query tokens present in at least
// one retrieved document, sender or subject.
func matchedKeywords(query string, docs []RetrievedDoc) []string {
	var out []string
	for _, kw := range significantTokens(query) {
		for _, d := range docs {
			haystack := strings.ToLower(d.Document + " " + d.Meta.Sender + " " + d.Meta.Subject)
			if strings.Contains(haystack, kw) {
				out = append(out, kw)
				break
			}
		}
	}
	return out
}

// Backreference tokens that suggest the question leans on earlier turns.
var backrefTokens = []string{
	" he ", " she ", " they ", " it", " that", " this", " those",
	"the email", "that email", "when was", "what did", "reply", "same",
}

func needsRewrite(question string) bool {
	lower := " " + strings.ToLower(question)
	for _, tok := range backrefTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// maybeRewrite makes follow-up questions self-contained using recent
// history. Failures fall back to the original question silently.
func (a *Answerer) maybeRewrite(ctx domain.Context, u domain.User, question string) string {
	if !needsRewrite(question) || a.history.Len(u.ID) == 0 || a.gate.Active(u.ID) {
		return question
	}
	turns := a.history.Recent(u.ID, historyForRewrite)
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	fmt.Fprintf(&b, "Follow-up question: %s", question)

	rewritten, err := a.chat.Chat(ctx, []domain.ChatMessage{
		{Role: "system", Content: rewritePrompt},
		{Role: "user", Content: b.String()},
	}, 200)
	if err != nil {
		if isRateLimitErr(err) {
			a.gate.Record(u.ID)
		}
		slog.Debug("question rewrite failed", slog.String("user_id", u.ID), slog.Any("error", err))
		return question
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question
	}
	return rewritten
}

func isRateLimitErr(err error) bool {
	if errors.Is(err, domain.ErrUpstreamRateLimit) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

var mostRecentWords = []string{"most recent", "latest", "newest", "last"}

func wantsMostRecent(query string) bool {
	lower := strings.ToLower(query)
	for _, w := range mostRecentWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func noResultsMessage(senderFilter string) string {
	if senderFilter != "" {
		return fmt.Sprintf("I couldn't find any emails from %q in your inbox.", senderFilter)
	}
	return "I couldn't find any emails matching your question."
}

// buildContext renders retrieval results into prompt blocks and trims the
// whole thing to the configured token budget (approximated at four
// characters per token). The first overflowing block is truncated rather
// than dropped when a useful prefix remains.
func (a *Answerer) buildContext(docs []RetrievedDoc) string {
	budget := a.cfg.MaxContextTokens * charsPerToken
	var blocks []string
	used := 0
	for _, d := range docs {
		block := renderBlock(d, a.now())
		if used+len(block) > budget {
			remain := budget - used
			if remain >= minTruncatedBlock {
				blocks = append(blocks, cutAtRune(block, remain)+"... [truncated]")
			}
			break
		}
		blocks = append(blocks, block)
		used += len(block) + 2
	}
	return strings.Join(blocks, "\n\n")
}

func renderBlock(d RetrievedDoc, now time.Time) string {
	urgent := "NO"
	if d.Meta.IsUrgent {
		urgent = "YES"
	}
	content := d.Document
	if len(content) > promptContentChars {
		content = cutAtRune(content, promptContentChars) + "..."
	}
	return fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\nUrgent: %s\nDeadline: %s\nContent: %s",
		d.Meta.Subject, d.Meta.Sender, d.Meta.Date, urgent, RenderDeadline(d.Meta.DeadlineDate, now), content)
}

func (a *Answerer) buildMessages(u domain.User, contextText, question string) []domain.ChatMessage {
	msgs := []domain.ChatMessage{{Role: "system", Content: systemPrompt}}
	for _, t := range a.history.Recent(u.ID, historyForChat) {
		msgs = append(msgs,
			domain.ChatMessage{Role: "user", Content: t.Question},
			domain.ChatMessage{Role: "assistant", Content: t.Answer},
		)
	}
	msgs = append(msgs, domain.ChatMessage{
		Role:    "user",
		Content: fmt.Sprintf("Email context:\n\n%s\n\nQuestion: %s", contextText, question),
	})
	return msgs
}

// cutAtRune returns at most n bytes of s without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func toCountMessages(msgs []domain.ChatMessage) []tokencount.Message {
	out := make([]tokencount.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokencount.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// RenderDeadline turns a stored deadline into its display form: OVERDUE,
// DUE TODAY, DUE IN N DAYS, the raw date when unparsable, or No deadline.
func RenderDeadline(deadlineDate string, now time.Time) string {
	if deadlineDate == "" {
		return "No deadline"
	}
	if deadlineDate == "now" {
		return "DUE TODAY"
	}
	var due time.Time
	var err error
	for _, layout := range []string{"1/2/2006", "01/02/2006", "2006-01-02"} {
		due, err = time.Parse(layout, deadlineDate)
		if err == nil {
			break
		}
	}
	if err != nil {
		return deadlineDate
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(due.Sub(today).Hours() / 24)
	switch {
	case days < 0:
		return "OVERDUE"
	case days == 0:
		return "DUE TODAY"
	default:
		return fmt.Sprintf("DUE IN %d DAYS", days)
	}
}

func toSources(docs []RetrievedDoc, now time.Time) []Source {
	out := make([]Source, 0, len(docs))
	for _, d := range docs {
		out = append(out, Source{
			EmailID:     d.MessageID,
			Sender:      d.Meta.Sender,
			Subject:     d.Meta.Subject,
			Date:        d.Meta.Date,
			Relevance:   math.Round(d.Hybrid*1000) / 10,
			IsUrgent:    d.Meta.IsUrgent,
			HasDeadline: d.Meta.HasDeadline,
			Deadline:    RenderDeadline(d.Meta.DeadlineDate, now),
			Text:        d.Document,
			Timestamp:   d.Meta.Timestamp,
		})
	}
	return out
}

// fallbackAnswer renders results without the LLM: a single result becomes
// a header block plus body excerpt, multiple results a numbered list,
// newest first.
func fallbackAnswer(docs []RetrievedDoc, now time.Time) string {
	if len(docs) == 1 {
		d := docs[0]
		body := d.Document
		if len(body) > fallbackBodyChars {
			body = cutAtRune(body, fallbackBodyChars) + "..."
		}
		return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\nDeadline: %s\n\n%s",
			d.Meta.Sender, d.Meta.Subject, d.Meta.Date, RenderDeadline(d.Meta.DeadlineDate, now), body)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Found %d matching emails:\n", len(docs)))
	for i, d := range docs {
		if i >= fallbackListMax {
			break
		}
		snippet := strings.ReplaceAll(d.Document, "\n", " ")
		if len(snippet) > fallbackSnippetChars {
			snippet = cutAtRune(snippet, fallbackSnippetChars) + "..."
		}
		fmt.Fprintf(&b, "\n%d. From: %s | Subject: %s | Date: %s\n   %s\n", i+1, d.Meta.Sender, d.Meta.Subject, d.Meta.Date, snippet)
	}
	return b.String()
}
