package usecase

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/observability"
)

const (
	// messagesPerProducer is the slice of pending messages each producer
	// task embeds and upserts.
	messagesPerProducer = 50
	maxProducers        = 4
)

// Indexer turns stored messages into embedded chunks in the vector store.
type Indexer struct {
	messages domain.MessageRepository
	vectors  domain.VectorStore
	embedder domain.Embedder
	cache    *QueryCache

	chunkSize int
	batchSize int
}

// NewIndexer wires an Indexer.
func NewIndexer(cfg config.Config, messages domain.MessageRepository, vectors domain.VectorStore, embedder domain.Embedder, cache *QueryCache) *Indexer {
	batch := cfg.EmbedBatchSize
	if batch <= 0 {
		batch = 64
	}
	return &Indexer{
		messages:  messages,
		vectors:   vectors,
		embedder:  embedder,
		cache:     cache,
		chunkSize: cfg.ChunkSize,
		batchSize: batch,
	}
}

// IndexReport summarizes one indexing pass.
type IndexReport struct {
	EmailsIndexed int
	NewEmails     int
	ChunksAdded   int
}

// Run performs one incremental indexing pass for the user: messages whose
// ids are absent from the vector store get chunked, embedded and upserted.
// The query cache is cleared only when new chunks were written.
func (ix *Indexer) Run(ctx domain.Context, u domain.User) (IndexReport, error) {
	start := time.Now()
	collection := domain.CollectionName(u.EmailAddress)
	if err := ix.vectors.EnsureCollection(ctx, collection, ix.embedder.Dimensions()); err != nil {
		observability.ObserveIndexRun("error", 0, time.Since(start))
		return IndexReport{}, fmt.Errorf("op=indexer.run: %w", err)
	}

	chunkIDs, err := ix.vectors.ListIDs(ctx, collection)
	if err != nil {
		observability.ObserveIndexRun("error", 0, time.Since(start))
		return IndexReport{}, fmt.Errorf("op=indexer.run: %w", err)
	}
	indexed := make(map[int64]bool, len(chunkIDs))
	for _, cid := range chunkIDs {
		if head, _, ok := strings.Cut(cid, "_"); ok {
			if id, err := strconv.ParseInt(head, 10, 64); err == nil {
				indexed[id] = true
			}
		}
	}

	msgs, err := ix.messages.ListAll(ctx, u.ID)
	if err != nil {
		observability.ObserveIndexRun("error", 0, time.Since(start))
		return IndexReport{}, fmt.Errorf("op=indexer.run: %w", err)
	}

	var pending []domain.Message
	for _, m := range msgs {
		if !indexed[m.ID] {
			pending = append(pending, m)
		}
	}
	report := IndexReport{EmailsIndexed: len(msgs), NewEmails: len(pending)}
	if len(pending) == 0 {
		observability.ObserveIndexRun("noop", 0, time.Since(start))
		return report, nil
	}

	added, err := ix.embedAndUpsert(ctx, collection, pending)
	report.ChunksAdded = added
	if err != nil {
		observability.ObserveIndexRun("error", added, time.Since(start))
		return report, fmt.Errorf("op=indexer.run: %w", err)
	}
	if added > 0 {
		ix.cache.Clear()
	}
	slog.Info("index pass complete",
		slog.String("user_id", u.ID),
		slog.Int("emails", report.EmailsIndexed),
		slog.Int("new_emails", report.NewEmails),
		slog.Int("chunks_added", added),
	)
	observability.ObserveIndexRun("ok", added, time.Since(start))
	return report, nil
}

// embedAndUpsert fans pending messages out to up to four producer tasks.
// Each producer owns a disjoint slice, so no lock is held across the
// embedding or upsert calls.
func (ix *Indexer) embedAndUpsert(ctx domain.Context, collection string, pending []domain.Message) (int, error) {
	var groups [][]domain.Message
	for len(pending) > messagesPerProducer {
		groups = append(groups, pending[:messagesPerProducer])
		pending = pending[messagesPerProducer:]
	}
	groups = append(groups, pending)

	sem := make(chan struct{}, maxProducers)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		added    int
		firstErr error
	)
	for _, group := range groups {
		group := group
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			n, err := ix.processGroup(ctx, collection, group)
			mu.Lock()
			added += n
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return added, firstErr
}

func (ix *Indexer) processGroup(ctx domain.Context, collection string, group []domain.Message) (int, error) {
	var points []domain.ChunkPoint
	for _, m := range group {
		points = append(points, ChunkMessage(m, ix.chunkSize)...)
	}
	added := 0
	for start := 0; start < len(points); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Document
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return added, err
		}
		for i := range batch {
			batch[i].Vector = vecs[i]
		}
		if err := ix.vectors.Upsert(ctx, collection, batch); err != nil {
			return added, err
		}
		added += len(batch)
	}
	return added, nil
}
