package fatfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input uint16
		want  time.Time
	}{
		{name: "first of january", input: 0x5221, want: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "epoch", input: 0x0021, want: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "last possible day", input: 0xFF9F, want: time.Date(2107, 12, 31, 0, 0, 0, 0, time.UTC)},
		{name: "zero", input: 0, want: time.Time{}},
		{name: "day zero", input: 0x5220, want: time.Time{}},
		{name: "month zero", input: 0x5201, want: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name  string
		input uint16
		want  time.Time
	}{
		{name: "midnight", input: 0, want: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "last possible second", input: 0xBF7D, want: time.Date(1, 1, 1, 23, 59, 58, 0, time.UTC)},
		{name: "afternoon", input: 0x6DAF, want: time.Date(1, 1, 1, 13, 45, 30, 0, time.UTC)},
		{name: "hour out of range", input: 31 << 11, want: time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTime(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_packDateTime(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		wantDate uint16
		wantTime uint16
		want     time.Time
	}{
		{
			name:     "even seconds",
			input:    testTime,
			wantDate: 0x52CF,
			wantTime: 0x6DAF,
			want:     testTime,
		},
		{
			name:     "odd seconds are rounded down",
			input:    time.Date(2021, 6, 15, 13, 45, 31, 999, time.UTC),
			wantDate: 0x52CF,
			wantTime: 0x6DAF,
			want:     testTime,
		},
		{
			name:     "before 1980",
			input:    time.Date(1975, 3, 4, 10, 11, 12, 0, time.UTC),
			wantDate: 0x0021,
			wantTime: 0,
			want:     time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "zero time",
			input:    time.Time{},
			wantDate: 0x0021,
			wantTime: 0,
			want:     time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, clock := packDate(tt.input), packTime(tt.input)
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantTime, clock)
			assert.True(t, parseDateTime(date, clock).Equal(tt.want), "parseDateTime() = %v", parseDateTime(date, clock))
		})
	}
}
