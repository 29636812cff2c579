package service

import (
	"context"

	"chatstream/internal/privacy"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeConversationID masks the phone-number-shaped conversation id
// unless verbose logging is on.
func SanitizeConversationID(ctx context.Context, conversationID string) string {
	if IsVerboseLogging(ctx) {
		return conversationID
	}
	return privacy.MaskPhoneNumber(conversationID)
}

// SanitizeExternalID shortens provider message ids for logs unless verbose
// logging is on.
func SanitizeExternalID(ctx context.Context, externalID string) string {
	if IsVerboseLogging(ctx) {
		return externalID
	}
	return privacy.MaskMessageID(externalID)
}
