package drive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWireTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"utc", "2024-01-15T10:30:00Z", 1705314600, false},
		{"with offset", "2024-01-15T12:30:00+02:00", 1705314600, false},
		{"epoch", "1970-01-01T00:00:00Z", 0, false},
		{"empty", "", 0, true},
		{"date only", "2024-01-15", 0, true},
		{"garbage", "not a time", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWireTime(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatWireTime(t *testing.T) {
	assert.Equal(t, "2024-01-15T10:30:00Z", FormatWireTime(1705314600))

	// parse/format agree on the same instant
	epoch, err := ParseWireTime(FormatWireTime(1705314600))
	require.NoError(t, err)
	assert.Equal(t, int64(1705314600), epoch)
}
