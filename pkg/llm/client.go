// Package llm provides a client for the local Ollama inference server.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ollama-chat-go/internal/config"
)

// ErrUnavailable 表示推理服务不可达、超时或返回了非 200 状态。
var ErrUnavailable = errors.New("ollama is not available")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an inference client.
type Client interface {
	// CheckConnection 在检查超时内探测 /api/tags，可达时返回 true。
	CheckConnection(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	// Generate 阻塞直到完整回复生成完毕。
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// StreamGenerate 返回一个只能消费一次的分块流，调用方必须 Close。
	StreamGenerate(ctx context.Context, req GenerateRequest) (*Stream, error)
}

// GenerateRequest 描述一次生成调用。
type GenerateRequest struct {
	Model  string
	Prompt string
	System string
}

type ollamaClient struct {
	cfg    config.OllamaConfig
	client *http.Client
}

// NewClient creates a new Ollama client from config.
func NewClient(cfg config.OllamaConfig) Client {
	return &ollamaClient{
		cfg: cfg,
		// 超时由每次调用的 context 控制，流式响应不能被整体超时截断
		client: &http.Client{},
	}
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	TopK        int      `json:"top_k"`
	NumPredict  int      `json:"num_predict"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *ollamaClient) baseURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

func (c *ollamaClient) checkTimeout() time.Duration {
	if d := c.cfg.CheckTimeout(); d > 0 {
		return d
	}
	return 5 * time.Second
}

func (c *ollamaClient) CheckConnection(ctx context.Context) bool {
	_, err := c.tags(ctx)
	return err == nil
}

func (c *ollamaClient) ListModels(ctx context.Context) ([]string, error) {
	tags, err := c.tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *ollamaClient) tags(ctx context.Context) (*tagsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tags returned %s", ErrUnavailable, resp.Status)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}
	return &tags, nil
}

// Generate 通过流式接口拼接出完整回复。
func (c *ollamaClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	stream, err := c.StreamGenerate(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		sb.WriteString(chunk)
	}
}

func (c *ollamaClient) StreamGenerate(ctx context.Context, req GenerateRequest) (*Stream, error) {
	gen := c.cfg.Generation
	body := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: true,
		Options: generateOptions{
			Temperature: gen.Temperature,
			TopP:        gen.TopP,
			TopK:        gen.TopK,
			NumPredict:  gen.NumPredict,
			Stop:        gen.Stop,
		},
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	// 推理超时独立于 HTTP 服务自身的超时
	cancel := context.CancelFunc(func() {})
	if d := c.cfg.Timeout(); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/api/generate", bytes.NewReader(reqBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: generate returned %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}

	stream := NewStream(resp.Body)
	stream.cancel = cancel
	return stream, nil
}

// Stream 是一次生成调用的 NDJSON 分块流，不可重启。
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	done   bool
}

// NewStream 从 NDJSON 响应体构造分块流。
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, reader: bufio.NewReader(body), cancel: func() {}}
}

// Recv 返回下一个非空文本分块。收到 done 标记后返回 io.EOF。
// 无法解析的行会被跳过。
func (s *Stream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		line, err := s.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk generateChunk
			if jsonErr := json.Unmarshal(line, &chunk); jsonErr == nil {
				if chunk.Error != "" {
					return "", fmt.Errorf("%w: %s", ErrUnavailable, chunk.Error)
				}
				if chunk.Done {
					s.done = true
				}
				if chunk.Response != "" {
					return chunk.Response, nil
				}
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// 服务端在 done 之前关闭了连接
				s.done = true
				return "", io.EOF
			}
			return "", fmt.Errorf("%w: failed to read from stream: %v", ErrUnavailable, err)
		}
	}
}

// Close 释放底层连接。
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}
