package remotefs

import (
	"os"
	"testing"
)

func TestFlagClassification(t *testing.T) {
	tests := []struct {
		name     string
		flag     int
		readable bool
		writable bool
	}{
		{"read only", os.O_RDONLY, true, false},
		{"write only", os.O_WRONLY, false, true},
		{"read write", os.O_RDWR, true, true},
		{"create truncate", os.O_RDWR | os.O_CREATE | os.O_TRUNC, true, true},
		{"append", os.O_WRONLY | os.O_APPEND, false, true},
		{"read create", os.O_RDONLY | os.O_CREATE, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Readable(tc.flag); got != tc.readable {
				t.Errorf("Readable(%#o) = %v, want %v", tc.flag, got, tc.readable)
			}
			if got := Writable(tc.flag); got != tc.writable {
				t.Errorf("Writable(%#o) = %v, want %v", tc.flag, got, tc.writable)
			}
		})
	}
}
