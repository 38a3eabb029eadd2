package parser

import "testing"

func TestDecodeEscapes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"hex escapes", `foo\x20\x62\x61\x72`, "foo bar", false},
		{"literal percent survives", `foo%20\x62\x61\x72`, "foo%20bar", false},
		{"lone percent", `100%`, "100%", false},
		{"lowercase hex", `\x7b\x7d`, "{}", false},
		{"quote escape", `{\x22level\x22:\x22ERROR\x22}`, `{"level":"ERROR"}`, false},
		{"multi-byte utf-8", `caf\xC3\xA9`, "café", false},
		{"short hex left alone", `\x4`, `\x4`, false},
		{"non-hex left alone", `\xZZ`, `\xZZ`, false},
		{"invalid utf-8", `\xff\xfe`, "", true},
		{"truncated utf-8", `\xC3`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEscapes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEscapes(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeEscapes(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
