package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusRank(t *testing.T) {
	assert.Equal(t, 0, StatusRank(MessageStatusSent))
	assert.Equal(t, 1, StatusRank(MessageStatusDelivered))
	assert.Equal(t, 2, StatusRank(MessageStatusRead))
	assert.Equal(t, -1, StatusRank(MessageStatusFailed))
	assert.Equal(t, -1, StatusRank(MessageStatus("bogus")))
}

func TestShouldPromote(t *testing.T) {
	tests := []struct {
		name    string
		current MessageStatus
		next    MessageStatus
		want    bool
	}{
		{"sent to delivered", MessageStatusSent, MessageStatusDelivered, true},
		{"sent to read", MessageStatusSent, MessageStatusRead, true},
		{"delivered to read", MessageStatusDelivered, MessageStatusRead, true},
		{"delivered to sent regresses", MessageStatusDelivered, MessageStatusSent, false},
		{"read to delivered regresses", MessageStatusRead, MessageStatusDelivered, false},
		{"same status is a no-op", MessageStatusDelivered, MessageStatusDelivered, false},
		{"failed overrides sent", MessageStatusSent, MessageStatusFailed, true},
		{"failed overrides read", MessageStatusRead, MessageStatusFailed, true},
		{"failed overrides failed", MessageStatusFailed, MessageStatusFailed, true},
		{"nothing promotes out of failed", MessageStatusFailed, MessageStatusRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldPromote(tt.current, tt.next))
		})
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []MessageStatus{MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed} {
		assert.True(t, IsValidStatus(s))
	}
	assert.False(t, IsValidStatus(MessageStatus("")))
	assert.False(t, IsValidStatus(MessageStatus("seen")))
}

func TestIsValidKind(t *testing.T) {
	for _, k := range []MessageKind{KindText, KindImage, KindDocument, KindAudio} {
		assert.True(t, IsValidKind(k))
	}
	assert.False(t, IsValidKind(MessageKind("sticker")))
}
