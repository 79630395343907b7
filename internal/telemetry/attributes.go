// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared across components.
const (
	SessionIDKey   = "session.id"
	FrameIDKey     = "frame.id"
	FrameNumberKey = "frame.number"
	ImageBytesKey  = "image.bytes"

	AnalysisAttemptsKey = "analysis.attempts"
	AnalysisModelKey    = "analysis.model"
	AnalysisOutcomeKey  = "analysis.outcome"

	PublishChannelKey = "publish.channel"
	PublishBytesKey   = "publish.bytes"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// FrameAttributes identifies a sampled frame on a span.
func FrameAttributes(sessionID, frameID string, frameNumber int64, imageBytes int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if frameID != "" {
		attrs = append(attrs, attribute.String(FrameIDKey, frameID))
	}
	attrs = append(attrs, attribute.Int64(FrameNumberKey, frameNumber))
	if imageBytes > 0 {
		attrs = append(attrs, attribute.Int(ImageBytesKey, imageBytes))
	}
	return attrs
}

// AnalysisAttributes records how an analysis ended.
func AnalysisAttributes(outcome, model string, attempts int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AnalysisOutcomeKey, outcome),
		attribute.Int(AnalysisAttemptsKey, attempts),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AnalysisModelKey, model))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
