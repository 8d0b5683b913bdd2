package format

import "testing"

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 KB"},
		{104, "104 B"},
		{1_500_000, "1.5 MB"},
		{2_000_000_000, "2.0 GB"},
		{3_100_000_000_000, "3.1 TB"},
	}

	for _, tt := range cases {
		if got := HumanBytes(tt.in); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHumanNumber(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{7, "7"},
		{1100, "1.10 K"},
		{25_300_000, "25.3 M"},
		{1_100_000_000, "1.10 B"},
	}

	for _, tt := range cases {
		if got := HumanNumber(tt.in); got != tt.want {
			t.Errorf("HumanNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
