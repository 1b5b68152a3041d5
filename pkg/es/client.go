// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/log"
)

// MessageIndex 封装了聊天消息索引的读写。
type MessageIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// InitES 初始化 Elasticsearch 客户端，并确保消息索引存在。
func InitES(esCfg config.ElasticsearchConfig) (*MessageIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := NewMessageIndex(client, esCfg.IndexName)
	if err := idx.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewMessageIndex 使用已有的客户端创建 MessageIndex。
func NewMessageIndex(client *elasticsearch.Client, indexName string) *MessageIndex {
	return &MessageIndex{client: client, indexName: indexName}
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (m *MessageIndex) createIndexIfNotExists() error {
	res, err := m.client.Indices.Exists([]string{m.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", m.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", m.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := `{
		"mappings": {
			"properties": {
				"doc_id": { "type": "keyword" },
				"message_id": { "type": "long" },
				"conversation_id": { "type": "keyword" },
				"owner_id": { "type": "keyword" },
				"role": { "type": "keyword" },
				"content": { "type": "text" },
				"model": { "type": "keyword" },
				"timestamp": { "type": "date" }
			}
		}
	}`

	res, err = m.client.Indices.Create(
		m.indexName,
		m.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", m.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", m.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", m.indexName)
	return nil
}

// IndexMessage 将单条消息索引到 Elasticsearch。同一 DocID 重复写入是幂等的。
func (m *MessageIndex) IndexMessage(ctx context.Context, doc model.MessageDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      m.indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, m.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引消息到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index message")
	}
	return nil
}

// DeleteByConversation 删除某个对话的全部消息文档。
func (m *MessageIndex) DeleteByConversation(ctx context.Context, conversationID string) error {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"conversation_id": conversationID},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	res, err := m.client.DeleteByQuery(
		[]string{m.indexName},
		&buf,
		m.client.DeleteByQuery.WithContext(ctx),
		m.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("按对话删除文档出错, conversationID: %s, resp: %s", conversationID, res.String())
		return errors.New("failed to delete conversation documents")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64               `json:"_score"`
			Source model.MessageDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在 ownerID 名下的消息中做全文检索。owner_id 过滤条件总是存在。
func (m *MessageIndex) Search(ctx context.Context, ownerID, query string, size int) ([]model.SearchHit, error) {
	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"match": map[string]interface{}{"content": query},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"owner_id": ownerID},
					},
				},
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"timestamp": "desc"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	res, err := m.client.Search(
		m.client.Search.WithContext(ctx),
		m.client.Search.WithIndex(m.indexName),
		m.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch 搜索出错: %s", res.String())
		return nil, errors.New("elasticsearch search failed")
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析搜索结果失败: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		// 只返回 ownerID 名下的文档
		if h.Source.OwnerID != ownerID {
			continue
		}
		hits = append(hits, model.SearchHit{
			ConversationID: h.Source.ConversationID,
			MessageID:      h.Source.MessageID,
			Role:           h.Source.Role,
			Content:        h.Source.Content,
			Timestamp:      h.Source.Timestamp,
			Score:          h.Score,
		})
	}
	return hits, nil
}
