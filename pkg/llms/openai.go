// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/httpclient"
	"github.com/praxislang/praxis/pkg/observability"
)

// OpenAIDriver speaks the OpenAI chat completions streaming protocol. Any
// OpenAI-compatible endpoint (including Ollama's /v1) works through it.
type OpenAIDriver struct {
	cfg    config.LLMConfig
	client *httpclient.Client
}

func New(cfg config.LLMConfig) (Driver, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)
	return &OpenAIDriver{cfg: cfg, client: client}, nil
}

func (d *OpenAIDriver) Model() string { return d.cfg.Model }

type wireRequest struct {
	Model       string                   `json:"model"`
	Messages    []map[string]interface{} `json:"messages"`
	Tools       []wireTool               `json:"tools,omitempty"`
	Temperature *float64                 `json:"temperature,omitempty"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	Stream      bool                     `json:"stream"`
	StreamOpts  *wireStreamOpts          `json:"stream_options,omitempty"`
}

type wireStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type wireStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    *int   `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatStream starts one streaming completion. The returned channel closes
// when the stream ends; a chunk with Err set signals abnormal termination.
func (d *OpenAIDriver) ChatStream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	model := req.Model
	if model == "" {
		model = d.cfg.Model
	}

	wire := wireRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
		StreamOpts:  &wireStreamOpts{IncludeUsage: true},
	}
	if wire.Temperature == nil {
		wire.Temperature = d.cfg.Temperature
	}
	if wire.MaxTokens == 0 {
		wire.MaxTokens = d.cfg.MaxTokens
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, m.ToWire())
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		d.stream(ctx, model, body, req.SessionCounter, out)
	}()
	return out, nil
}

func (d *OpenAIDriver) stream(ctx context.Context, model string, body []byte, session int, out chan<- Chunk) {
	tracer := observability.GetTracer("praxis.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, model)))
	defer span.End()

	startTime := time.Now()
	acc := NewAccumulator(session)
	err := d.consume(ctx, body, acc, out)
	duration := time.Since(startTime)

	inputTokens, outputTokens := 0, 0
	if u := acc.Snapshot("").Usage; u != nil {
		inputTokens, outputTokens = u.PromptTokens, u.CompletionTokens
	}
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, model, duration, inputTokens, outputTokens, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		select {
		case out <- Chunk{Err: err}:
		case <-ctx.Done():
		}
		return
	}
	span.SetStatus(codes.Ok, "success")
}

func (d *OpenAIDriver) consume(ctx context.Context, body []byte, acc *Accumulator, out chan<- Chunk) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return &StreamError{Provider: string(d.cfg.Provider), Message: err.Error(), Err: err}
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	resp, err := d.client.Do(httpReq)
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			return &StreamError{
				Provider:   string(d.cfg.Provider),
				StatusCode: resp.StatusCode,
				Message:    errorMessage(raw),
				Err:        err,
			}
		}
	}
	if err != nil {
		return &StreamError{Provider: string(d.cfg.Provider), Message: err.Error(), Err: err}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StreamError{Provider: string(d.cfg.Provider),
				Message: "failed to read stream: " + err.Error(), Err: err}
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			return nil
		}

		var streamResp wireStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}
		if streamResp.Error != nil {
			return &StreamError{Provider: string(d.cfg.Provider), Message: streamResp.Error.Message}
		}
		if streamResp.Usage != nil {
			acc.SetUsage(streamResp.Usage)
		}
		if len(streamResp.Choices) == 0 {
			if streamResp.Usage != nil {
				emit(ctx, out, acc.Snapshot(""))
			}
			continue
		}

		choice := streamResp.Choices[0]

		if r := choice.Delta.Reasoning + choice.Delta.ReasoningContent; r != "" {
			acc.AddReasoning(r)
		}
		if choice.Delta.Content != "" {
			acc.AddContent(choice.Delta.Content)
		}

		// Every tool call in the delta array is folded in, keyed by the
		// provider index when present.
		for i, deltaCall := range choice.Delta.ToolCalls {
			idx := i
			if deltaCall.Index != nil {
				idx = *deltaCall.Index
			}
			acc.AddToolCallDelta(idx, deltaCall.ID, deltaCall.Function.Name, deltaCall.Function.Arguments)
		}

		if choice.FinishReason != "" {
			acc.SetFinish(choice.FinishReason)
		}

		if !emit(ctx, out, acc.Snapshot(choice.Delta.Content)) {
			return ctx.Err()
		}
	}
}

func emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorMessage(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(raw)
}
