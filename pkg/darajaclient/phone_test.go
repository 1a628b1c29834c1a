package darajaclient

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "local format with leading zero", raw: "0712345678", want: "254712345678"},
		{name: "bare local format", raw: "712345678", want: "254712345678"},
		{name: "already international", raw: "254712345678", want: "254712345678"},
		{name: "plus prefix stripped", raw: "+254712345678", want: "254712345678"},
		{name: "spaces and separators removed", raw: "0712 345-678", want: "254712345678"},
		{name: "empty input", raw: "", want: ""},
		{name: "only separators", raw: "+ -", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhone(tt.raw); got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
