package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind-app/mailmind/internal/adapter/vector/qdrant"
	"github.com/mailmind-app/mailmind/internal/domain"
)

func TestClient_EnsureCollection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		collection string
		dim        int
		handler    http.HandlerFunc
		wantErr    bool
	}{
		{
			name:       "collection already exists",
			collection: "emails_inbox_a_b_com",
			dim:        1536,
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					w.WriteHeader(http.StatusOK)
					require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": "ok"}))
				}
			},
			wantErr: false,
		},
		{
			name:       "create new collection",
			collection: "emails_inbox_new_user_com",
			dim:        768,
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if r.Method == http.MethodPut {
					var payload map[string]any
					require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
					vectors := payload["vectors"].(map[string]any)
					assert.Equal(t, float64(768), vectors["size"])
					assert.Equal(t, "Cosine", vectors["distance"])
					w.WriteHeader(http.StatusOK)
					require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": "ok"}))
				}
			},
			wantErr: false,
		},
		{
			name:       "server error",
			collection: "error_collection",
			dim:        1536,
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := qdrant.New(server.URL, "test-api-key")
			err := client.EnsureCollection(context.Background(), tt.collection, tt.dim)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestClient_Upsert_PayloadEncoding(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.URL.Path, "/collections/emails_inbox_a_b_com/points")

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		points := payload["points"].([]any)
		require.Len(t, points, 1)
		pt := points[0].(map[string]any)
		assert.NotEmpty(t, pt["id"])
		pl := pt["payload"].(map[string]any)
		assert.Equal(t, "12_0", pl["chunk_id"])
		assert.Equal(t, "True", pl["is_urgent"])
		assert.Equal(t, "False", pl["is_read"])
		assert.Equal(t, "now", pl["deadline_date"])

		w.WriteHeader(http.StatusOK)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": "ok"}))
	}))
	defer server.Close()

	client := qdrant.New(server.URL, "test-api-key")
	err := client.Upsert(context.Background(), "emails_inbox_a_b_com", []domain.ChunkPoint{{
		ID:       "12_0",
		Vector:   []float32{0.1, 0.2},
		Document: "FROM: x\nSUBJECT: y\nDATE: z\n\nbody",
		Meta: domain.ChunkMeta{
			MessageID:    12,
			Sender:       "x",
			Subject:      "y",
			IsUrgent:     true,
			HasDeadline:  true,
			DeadlineDate: "now",
		},
	}})
	require.NoError(t, err)
}

func TestClient_Upsert_Empty(t *testing.T) {
	t.Parallel()

	client := qdrant.New("http://unreachable", "")
	require.NoError(t, client.Upsert(context.Background(), "c", nil))
}

func TestClient_Query_DecodesHits(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/points/search")

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(5), payload["limit"])
		assert.Equal(t, true, payload["with_payload"])

		w.WriteHeader(http.StatusOK)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{
					"score": 0.95,
					"payload": map[string]any{
						"chunk_id":      "7_1",
						"document":      "doc text",
						"message_id":    7,
						"sender":        "Alice <alice@x.com>",
						"subject":       "hi",
						"timestamp":     1700000000.0,
						"is_read":       "True",
						"is_urgent":     "False",
						"has_deadline":  "True",
						"deadline_date": "2026-01-15",
						"chunk_index":   1,
					},
				},
			},
		}))
	}))
	defer server.Close()

	client := qdrant.New(server.URL, "")
	hits, err := client.Query(context.Background(), "c", []float32{0.1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "7_1", hits[0].ID)
	assert.Equal(t, "doc text", hits[0].Document)
	assert.InDelta(t, 0.05, hits[0].Distance, 1e-9)
	assert.Equal(t, int64(7), hits[0].Meta.MessageID)
	assert.True(t, hits[0].Meta.IsRead)
	assert.False(t, hits[0].Meta.IsUrgent)
	assert.Equal(t, "2026-01-15", hits[0].Meta.DeadlineDate)
	assert.Equal(t, 1, hits[0].Meta.ChunkIndex)
}

func TestClient_Count_MissingCollectionIsZero(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := qdrant.New(server.URL, "")
	n, err := client.Count(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_ListIDs_Paginates(t *testing.T) {
	t.Parallel()

	call := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/points/scroll")
		call++
		var resp map[string]any
		if call == 1 {
			resp = map[string]any{"result": map[string]any{
				"points": []map[string]any{
					{"payload": map[string]any{"chunk_id": "1_0"}},
					{"payload": map[string]any{"chunk_id": "1_1"}},
				},
				"next_page_offset": "cursor-2",
			}}
		} else {
			resp = map[string]any{"result": map[string]any{
				"points": []map[string]any{
					{"payload": map[string]any{"chunk_id": "2_0"}},
				},
				"next_page_offset": nil,
			}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := qdrant.New(server.URL, "")
	ids, err := client.ListIDs(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"1_0", "1_1", "2_0"}, ids)
	assert.Equal(t, 2, call)
}
