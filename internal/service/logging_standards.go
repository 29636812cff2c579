package service

// Logging Standards for chatstream
//
// This file defines standard field names to ensure consistent logging
// across the application.
const (
	// Core identifiers
	LogFieldConversationID = "conversation_id"
	LogFieldExternalID     = "external_id"
	LogFieldSubscriberID   = "subscriber_id"

	// Message and event fields
	LogFieldEvent     = "event"
	LogFieldDirection = "direction" // "incoming" or "outgoing"
	LogFieldKind      = "kind"
	LogFieldStatus    = "status"

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Network
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Tracing
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Error and debugging
	LogFieldErrorCode = "error_code"
)
