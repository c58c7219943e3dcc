package handler

import "testing"

func TestValidUsername(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"alice", "alice", true},
		{"  alice  ", "alice", true},
		{"ab", "ab", true},
		{"a", "a", false},
		{"  a  ", "a", false},
		{"", "", false},
		{"   ", "", false},
		{"éü", "éü", true}, // runes, not bytes
	}
	for _, c := range cases {
		got, ok := validUsername(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("validUsername(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
