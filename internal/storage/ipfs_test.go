package storage

import "testing"

func TestNormalizeAPIURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "http://127.0.0.1:5001"},
		{"127.0.0.1:5001", "http://127.0.0.1:5001"},
		{"http://ipfs:5001", "http://ipfs:5001"},
		{"https://ipfs.example.com", "https://ipfs.example.com"},
		{"/ip4/172.29.0.2/tcp/5001", "http://172.29.0.2:5001"},
		{"/dns/ipfs/tcp/5001", "http://ipfs:5001"},
	}
	for _, tc := range cases {
		if got := normalizeAPIURL(tc.in); got != tc.want {
			t.Errorf("normalizeAPIURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
