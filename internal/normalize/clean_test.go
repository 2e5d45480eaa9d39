package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"null bytes", "a\x00b\x00", "ab"},
		{"control chars", "x\x07y\x1bz", "xyz"},
		{"newlines become spaces", "line1\nline2", "line1 line2"},
		{"trim", "  padded\t", "padded"},
		{"nfc", "café", "café"},
		{"invalid utf8", "ok\xffok", "ok�ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CleanString(tt.in))
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"1/2/2024", "2024-01-02"},
		{"12/31/2023 11:59:59 PM", "2023-12-31"},
		{"03/04/2024 1:05 AM", "2024-03-04"},
		{"3/4/2024 13:05:00", "2024-03-04"},
		{"2024-05-06", "2024-05-06"},
		{"", ""},
		{"N/A", ""},
		{"13/45/2024", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDate(tt.in), tt.in)
	}
}

func TestNormalizeDateTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2024-01-02T00:00:00Z", NormalizeDateTime("1/2/2024 5:00:00 PM"))
	assert.Equal(t, "", NormalizeDateTime("garbage"))
}

func TestHeaderKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "casenumber", headerKey("Case Number"))
	assert.Equal(t, "casenumber", headerKey("case_number"))
	assert.Equal(t, "case", headerKey("Case #"))
}
