package compaction

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/internal/telemetry"
)

var tracer = otel.Tracer(telemetry.TracerName)

// Compact wraps compact in a compaction_run span carrying the outcome
// status, preserved/summarized counts, and anchor-validation result.
func (e *Engine) Compact(
	ctx context.Context,
	messages []store.Message,
	systemPrompt string,
	lastCompactionSeq *int64,
	previousCompactedContext string,
	currentUserSeq int64,
	model string,
	sessionID string,
) Result {
	ctx, span := tracer.Start(ctx, "compaction_run")
	defer span.End()

	result := e.compact(ctx, messages, systemPrompt, lastCompactionSeq, previousCompactedContext, currentUserSeq, model, sessionID)

	span.SetAttributes(
		attribute.String("neomagi.compaction_status", result.Status),
		attribute.Int("neomagi.preserved_count", result.Metadata.PreservedCount),
		attribute.Int("neomagi.summarized_count", result.Metadata.SummarizedCount),
		attribute.Bool("neomagi.anchor_validated", result.Metadata.AnchorValidated),
	)
	if result.Status == "failed" {
		span.SetStatus(codes.Error, "compaction failed")
	}
	return result
}
