package transport

import "testing"

func TestPushURL(t *testing.T) {
	tests := []struct {
		base, token, want string
	}{
		{"http://localhost:8000", "abc", "ws://localhost:8000/ws/abc"},
		{"https://api.example.com/", "abc", "wss://api.example.com/ws/abc"},
		{"https://api.example.com/v1?x=1", "a b", "wss://api.example.com/v1/ws/a%20b"},
		{"wss://api.example.com", "t", "wss://api.example.com/ws/t"},
	}
	for _, tt := range tests {
		got, err := PushURL(tt.base, tt.token)
		if err != nil {
			t.Errorf("PushURL(%q) error: %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PushURL(%q, %q) = %q, want %q", tt.base, tt.token, got, tt.want)
		}
	}
}

func TestPushURLRejects(t *testing.T) {
	for _, tc := range []struct{ base, token string }{
		{"ftp://host", "t"},
		{"http://", "t"},
		{"http://host", ""},
		{"::bad", "t"},
	} {
		if _, err := PushURL(tc.base, tc.token); err == nil {
			t.Errorf("PushURL(%q, %q) should fail", tc.base, tc.token)
		}
	}
}
