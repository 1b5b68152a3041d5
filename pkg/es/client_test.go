package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, handler http.HandlerFunc) *MessageIndex {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewMessageIndex(client, "chat_messages")
}

func TestSearch_FiltersByOwner(t *testing.T) {
	var captured map[string]interface{}
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_score":2.5,"_source":{"conversation_id":"c1","message_id":4,"owner_id":"auth_user_1","role":"user","content":"hello go"}},
			{"_score":1.0,"_source":{"conversation_id":"c9","message_id":7,"owner_id":"auth_user_2","role":"user","content":"hello go"}}
		]}}`)
	})

	hits, err := idx.Search(context.Background(), "auth_user_1", "go", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ConversationID)
	assert.Equal(t, uint(4), hits[0].MessageID)
	assert.Equal(t, 2.5, hits[0].Score)

	filter := captured["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	term := filter[0].(map[string]interface{})["term"].(map[string]interface{})
	assert.Equal(t, "auth_user_1", term["owner_id"])
}

func TestSearch_ErrorResponse(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"boom"}`)
	})

	_, err := idx.Search(context.Background(), "auth_user_1", "go", 10)
	assert.Error(t, err)
}

func TestDeleteByConversation_SendsTermQuery(t *testing.T) {
	var path string
	var captured map[string]interface{}
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = io.WriteString(w, `{"deleted":2}`)
	})

	require.NoError(t, idx.DeleteByConversation(context.Background(), "chat_abc"))
	assert.Equal(t, "/chat_messages/_delete_by_query", path)
	term := captured["query"].(map[string]interface{})["term"].(map[string]interface{})
	assert.Equal(t, "chat_abc", term["conversation_id"])
}
