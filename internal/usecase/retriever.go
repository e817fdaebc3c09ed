package usecase

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/observability"
)

const (
	// Dense recall ceiling when a sender filter widens the candidate pool.
	senderRecallLimit = 300
	// Result caps after dedup.
	senderResultCap = 50
	topKSender      = 50
	topKBroad       = 30
	topKDefault     = 15
)

// Hybrid score weights. Sender-scoped queries lean a little more on the
// semantic side because keyword overlap with the sender name is a given.
const (
	senderSemanticWeight = 0.40
	senderKeywordWeight  = 0.40
	plainSemanticWeight  = 0.35
	plainKeywordWeight   = 0.45
)

const (
	urgencyBoost  = 0.10
	deadlineBoost = 0.10
)

// Query expansion: the first matching trigger appends its synonyms.
var queryExpansions = []struct {
	trigger  string
	appended string
}{
	{"urgent", " asap immediate critical"},
	{"deadline", " due date"},
	{"meeting", " schedule appointment call"},
}

// RetrievedDoc is one message-granularity retrieval result carrying its
// best-scoring chunk.
type RetrievedDoc struct {
	MessageID int64
	ChunkID   string
	Document  string
	Meta      domain.ChunkMeta
	Semantic  float64
	Keyword   float64
	Hybrid    float64
}

// Retriever performs hybrid (dense + keyword) retrieval over a user's
// vector collection.
type Retriever struct {
	cfg      config.Config
	vectors  domain.VectorStore
	embedder domain.Embedder
	cache    *QueryCache
}

// NewRetriever wires a Retriever.
func NewRetriever(cfg config.Config, vectors domain.VectorStore, embedder domain.Embedder, cache *QueryCache) *Retriever {
	return &Retriever{cfg: cfg, vectors: vectors, embedder: embedder, cache: cache}
}

// ExpandQuery appends synonyms for the first matching trigger word.
func ExpandQuery(query string) string {
	lower := strings.ToLower(query)
	for _, e := range queryExpansions {
		if strings.Contains(lower, e.trigger) {
			return query + e.appended
		}
	}
	return query
}

func topKFor(query string, senderFiltered bool) int {
	if senderFiltered {
		return topKSender
	}
	lower := strings.ToLower(query)
	for _, w := range []string{"all", "list", "show"} {
		if strings.Contains(lower, w) {
			return topKBroad
		}
	}
	return topKDefault
}

// Retrieve runs the full pipeline for one query: sender detection, query
// expansion, cache lookup, dense recall, hybrid scoring, sender filtering,
// message-level dedup, ordering and truncation. The returned sender filter
// is empty for unscoped queries.
func (r *Retriever) Retrieve(ctx domain.Context, u domain.User, query string) ([]RetrievedDoc, string, error) {
	senderFilter, _ := DetectSender(query)
	expanded := ExpandQuery(query)

	key := CacheKey(u.ID, query, senderFilter)
	if docs, ok := r.cache.Get(key); ok {
		observability.QueryCacheHitsTotal.WithLabelValues("hit").Inc()
		return docs, senderFilter, nil
	}
	observability.QueryCacheHitsTotal.WithLabelValues("miss").Inc()

	collection := domain.CollectionName(u.EmailAddress)
	pool, err := r.vectors.Count(ctx, collection)
	if err != nil {
		return nil, senderFilter, fmt.Errorf("op=retriever.retrieve: %w", err)
	}
	if pool == 0 {
		return nil, senderFilter, nil
	}

	topK := topKFor(query, senderFilter != "")
	nResults := 3 * topK
	if senderFilter != "" {
		nResults = senderRecallLimit
	}
	if nResults > pool {
		nResults = pool
	}

	vecs, err := r.embedder.Embed(ctx, []string{expanded})
	if err != nil {
		return nil, senderFilter, fmt.Errorf("op=retriever.retrieve: %w", err)
	}
	hits, err := r.vectors.Query(ctx, collection, vecs[0], nResults)
	if err != nil {
		return nil, senderFilter, fmt.Errorf("op=retriever.retrieve: %w", err)
	}

	scored := r.score(hits, expanded, senderFilter != "")

	if senderFilter != "" {
		kept := scored[:0]
		for _, d := range scored {
			if MatchesSender(d.Meta.Sender, senderFilter) {
				kept = append(kept, d)
			}
		}
		scored = kept
	}

	docs := dedupByMessage(scored)

	// Newest first; hybrid score breaks ties within the same timestamp.
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Meta.Timestamp != docs[j].Meta.Timestamp {
			return docs[i].Meta.Timestamp > docs[j].Meta.Timestamp
		}
		return docs[i].Hybrid > docs[j].Hybrid
	})

	limit := topK
	if senderFilter != "" {
		limit = senderResultCap
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}

	r.cache.Set(key, docs)
	slog.Debug("retrieval complete",
		slog.String("user_id", u.ID),
		slog.String("sender_filter", senderFilter),
		slog.Int("pool", pool),
		slog.Int("results", len(docs)))
	return docs, senderFilter, nil
}

// score computes hybrid scores for raw hits.
func (r *Retriever) score(hits []domain.SearchHit, expandedQuery string, senderFiltered bool) []RetrievedDoc {
	semW, kwW := plainSemanticWeight, plainKeywordWeight
	if senderFiltered {
		semW, kwW = senderSemanticWeight, senderKeywordWeight
	}
	keywords := strings.Fields(strings.ToLower(expandedQuery))

	out := make([]RetrievedDoc, 0, len(hits))
	for _, h := range hits {
		semantic := 1 - h.Distance
		if semantic < 0 {
			semantic = 0
		}

		keyword := 0.0
		if len(keywords) > 0 {
			haystack := strings.ToLower(h.Document + " " + h.Meta.Sender + " " + h.Meta.Subject)
			matches := 0
			for _, kw := range keywords {
				if strings.Contains(haystack, kw) {
					matches++
				}
			}
			keyword = float64(matches) / float64(len(keywords))
			if keyword > 1 {
				keyword = 1
			}
		}
		// Flag boosts land on the hybrid score at full value, outside the
		// component weighting.
		boost := 0.0
		if h.Meta.IsUrgent {
			boost += urgencyBoost
		}
		if h.Meta.HasDeadline {
			boost += deadlineBoost
		}

		out = append(out, RetrievedDoc{
			MessageID: h.Meta.MessageID,
			ChunkID:   h.ID,
			Document:  h.Document,
			Meta:      h.Meta,
			Semantic:  semantic,
			Keyword:   keyword,
			Hybrid:    semW*semantic + kwW*keyword + boost,
		})
	}
	return out
}

// dedupByMessage collapses chunks to message granularity, keeping the
// highest hybrid score per message.
func dedupByMessage(docs []RetrievedDoc) []RetrievedDoc {
	best := make(map[int64]int)
	var out []RetrievedDoc
	for _, d := range docs {
		if idx, ok := best[d.MessageID]; ok {
			if d.Hybrid > out[idx].Hybrid {
				out[idx] = d
			}
			continue
		}
		best[d.MessageID] = len(out)
		out = append(out, d)
	}
	return out
}
