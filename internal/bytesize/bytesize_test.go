package bytesize

import (
	"testing"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "16384", 16384, false},
		{"bytes suffix", "512B", 512, false},

		{"slot size k", "4k", 4 * KiB, false},
		{"slot size K", "16K", 16 * KiB, false},
		{"slot size KiB", "8KiB", 8 * KiB, false},
		{"device Gi", "2Gi", 2 * GiB, false},
		{"device GiB", "1GiB", GiB, false},
		{"device Ti", "1Ti", TiB, false},

		{"decimal KB", "1KB", 1000, false},
		{"decimal MB", "100MB", 100 * MB, false},
		{"decimal G", "1G", GB, false},

		{"case insensitive", "1gi", GiB, false},
		{"surrounding space", "  64 Mi  ", 64 * MiB, false},
		{"fraction", "1.5Mi", ByteSize(1.5 * float64(MiB)), false},

		{"empty", "", 0, true},
		{"whitespace", "   ", 0, true},
		{"unknown unit", "1Xi", 0, true},
		{"negative", "-1Gi", 0, true},
		{"unit only", "Gi", 0, true},
		{"overflow", "99999999999Ti", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestByteSize_TextRoundTrip(t *testing.T) {
	for _, size := range []ByteSize{KiB, 16 * KiB, 3 * GiB, 1000} {
		text, err := size.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d) failed: %v", size, err)
		}
		var back ByteSize
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) failed: %v", text, err)
		}
		if back != size {
			t.Errorf("round trip of %d gave %d (text %q)", size, back, text)
		}
	}
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		input ByteSize
		want  string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{100 * MiB, "100.00MiB"},
		{GiB, "1.00GiB"},
	}

	for _, tt := range tests {
		if got := tt.input.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestByteSize_SlotHelpers(t *testing.T) {
	if !(16 * KiB).IsPowerOfTwo() {
		t.Error("16KiB should be a power of two")
	}
	if ByteSize(3 * KiB).IsPowerOfTwo() {
		t.Error("3KiB should not be a power of two")
	}
	if ByteSize(0).IsPowerOfTwo() {
		t.Error("zero should not be a power of two")
	}

	if got := (64 * KiB).Slots(4 * KiB); got != 16 {
		t.Errorf("Slots = %d, want 16", got)
	}
	if got := (64 * KiB).Slots(0); got != 0 {
		t.Errorf("Slots with zero slot size = %d, want 0", got)
	}
}
