package validation

import (
	"fmt"
	"net/http"
	"unicode"

	"chatstream/internal/constants"
	"chatstream/internal/errors"
)

// ValidateExternalID validates external message id format and length
func ValidateExternalID(externalID string) error {
	if externalID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "external id cannot be empty")
	}

	if len(externalID) > constants.MaxExternalIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("external id too long (max %d characters)", constants.MaxExternalIDLength))
	}

	// Check for control characters that could cause issues
	for _, char := range externalID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "external id contains invalid characters")
		}
	}

	return nil
}

// ValidateConversationID validates conversation id format and length
func ValidateConversationID(conversationID string) error {
	if conversationID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "conversation id cannot be empty")
	}

	if len(conversationID) > constants.MaxExternalIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("conversation id too long (max %d characters)", constants.MaxExternalIDLength))
	}

	for _, char := range conversationID {
		if unicode.IsControl(char) {
			return errors.New(errors.ErrCodeInvalidInput, "conversation id contains invalid characters")
		}
	}

	return nil
}

// ValidateMessageBody validates message body length
func ValidateMessageBody(body string) error {
	if len(body) > constants.MaxMessageBodyLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message body too long (max %d bytes)", constants.MaxMessageBodyLength))
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
