package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/neomagi/neomagi/internal/guardrail"
	"github.com/neomagi/neomagi/internal/providers"
	"github.com/neomagi/neomagi/internal/tools"
)

// chatStreamTraced wraps one model call in an llm_call span carrying
// provider, model, iteration, and token-usage attributes.
func (l *Loop) chatStreamTraced(ctx context.Context, turn Turn, iteration int, messages []providers.Message, toolDefs []providers.ToolDefinition, out chan<- Event) (*providers.ChatResponse, error) {
	ctx, span := l.tracer.Start(ctx, fmt.Sprintf("llm_call #%d", iteration))
	defer span.End()

	span.SetAttributes(
		attribute.String("neomagi.provider", turn.Provider.Name()),
		attribute.String("neomagi.model", turn.Model),
		attribute.Int("neomagi.iteration", iteration),
	)

	resp, err := turn.Provider.ChatStream(ctx, providers.ChatRequest{
		Messages: messages,
		Tools:    toolDefs,
		Model:    turn.Model,
	}, func(chunk providers.StreamChunk) {
		if chunk.Content == "" {
			return
		}
		select {
		case out <- Event{Type: EventTextChunk, TextChunk: chunk.Content}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("neomagi.finish_reason", resp.FinishReason))
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("neomagi.input_tokens", resp.Usage.PromptTokens),
			attribute.Int("neomagi.output_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}

// executeToolCallTraced wraps tool execution in a tool_call span.
func (l *Loop) executeToolCallTraced(ctx context.Context, tc providers.ToolCall, mode tools.Mode, guardState guardrail.CheckResult, scopeKey, sessionID string, out chan<- Event) interface{} {
	ctx, span := l.tracer.Start(ctx, "tool_call:"+tc.Name)
	defer span.End()

	span.SetAttributes(
		attribute.String("neomagi.tool_name", tc.Name),
		attribute.String("neomagi.tool_call_id", tc.ID),
	)

	result := l.executeToolCall(ctx, tc, mode, guardState, scopeKey, sessionID, out)
	if asErr, ok := result.(toolResultError); ok {
		span.SetStatus(codes.Error, asErr.Message)
	}
	return result
}
