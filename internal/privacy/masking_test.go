package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"empty", "", ""},
		{"international", "+1234567890", "+******7890"},
		{"plain digits", "1234567890", "******7890"},
		{"short with plus", "+123", "+***"},
		{"bare plus", "+", "+"},
		{"short plain", "123", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskPhoneNumber(tt.phone))
		})
	}
}

func TestMaskMessageID(t *testing.T) {
	assert.Equal(t, "", MaskMessageID(""))
	assert.Equal(t, "********", MaskMessageID("short-id"))
	assert.Equal(t, "********C3D4E5F6", MaskMessageID("wamid.A1C3D4E5F6"))
}

func TestMaskSensitiveFields(t *testing.T) {
	fields := map[string]interface{}{
		"conversation_id": "15551234567",
		"external_id":     "wamid.A1B2C3D4E5F6",
		"from":            "+1234567890",
		"count":           3,
		"note":            "left alone",
	}

	masked := MaskSensitiveFields(fields)

	assert.Equal(t, "*******4567", masked["conversation_id"])
	assert.Equal(t, "**********C3D4E5F6", masked["external_id"])
	assert.Equal(t, "+******7890", masked["from"])
	assert.Equal(t, 3, masked["count"])
	assert.Equal(t, "left alone", masked["note"])

	assert.Nil(t, MaskSensitiveFields(nil))
}
