package logging

import (
	"context"
)

const (
	TraceIDKey   = "trace_id"
	MessageIDKey = "message_id"
	TicketIDKey  = "ticket_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithTicketID(ctx context.Context, ticketID string) context.Context {
	return context.WithValue(ctx, TicketIDKey, ticketID)
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func GetMessageID(ctx context.Context) string {
	if messageID, ok := ctx.Value(MessageIDKey).(string); ok {
		return messageID
	}
	return ""
}

func GetTicketID(ctx context.Context) string {
	if ticketID, ok := ctx.Value(TicketIDKey).(string); ok {
		return ticketID
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}

	if messageID := GetMessageID(ctx); messageID != "" {
		fields = append(fields, "message_id", messageID)
	}

	if ticketID := GetTicketID(ctx); ticketID != "" {
		fields = append(fields, "ticket_id", ticketID)
	}

	return fields
}
