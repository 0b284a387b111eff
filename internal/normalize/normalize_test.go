package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    time.Time
		wantErr bool
	}{
		{
			name: "dash format",
			text: "01-03-2024",
			want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "slash format",
			text: "01/03/2024",
			want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "surrounding spaces",
			text: " 15-08-2023 ",
			want: time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "iso format rejected",
			text:    "2024-03-01",
			wantErr: true,
		},
		{
			name:    "garbage",
			text:    "not-a-date",
			wantErr: true,
		},
		{
			name:    "empty",
			text:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidReferenceDate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMSISDN(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int64
		wantErr bool
	}{
		{
			name: "country code prefix absorbed",
			text: "+91-9876543210",
			want: 9876543210,
		},
		{
			name: "plain ten digits",
			text: "9876543210",
			want: 9876543210,
		},
		{
			name: "eleven digits takes trailing ten",
			text: "09876543210",
			want: 9876543210,
		},
		{
			name:    "too short",
			text:    "12345",
			wantErr: true,
		},
		{
			name:    "empty",
			text:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMSISDN(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAbortionFlag(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"MTP<12 Weeks", true},
		{"MTP>12 Weeks", true},
		{"Spontaneous", true},
		{" Spontaneous ", true},
		{"None", false},
		{" ", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAbortionFlag(tt.text), "text=%q", tt.text)
	}
}

func TestParseStillbirthFlag(t *testing.T) {
	assert.True(t, ParseStillbirthFlag("0"))
	assert.True(t, ParseStillbirthFlag("Still Birth"))
	assert.False(t, ParseStillbirthFlag("1"))
	assert.False(t, ParseStillbirthFlag(""))
}

func TestParseDeathFlag(t *testing.T) {
	assert.True(t, ParseDeathFlag("9"))
	assert.True(t, ParseDeathFlag("Death"))
	assert.False(t, ParseDeathFlag("alive"))
	assert.False(t, ParseDeathFlag(" "))
}

func TestParseCaseNumber(t *testing.T) {
	t.Run("empty is nil without error", func(t *testing.T) {
		got, err := ParseCaseNumber("")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("valid number", func(t *testing.T) {
		got, err := ParseCaseNumber("12345")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(12345), *got)
	})

	t.Run("malformed number", func(t *testing.T) {
		_, err := ParseCaseNumber("12a45")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidNumber)
	})
}
