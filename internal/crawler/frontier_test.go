package crawler

import "testing"

func TestFrontierLevels(t *testing.T) {
	t.Parallel()

	f := NewFrontier("http://root.onion", 2)
	level := f.NextLevel()
	if len(level) != 1 || level[0].Remaining != 2 {
		t.Fatalf("first level = %+v", level)
	}

	if !f.Push("http://a.onion", 1) || !f.Push("http://b.onion", 1) {
		t.Fatal("new URLs should be accepted")
	}
	if f.Push("http://ROOT.onion/#x", 1) {
		t.Error("root seen again under another spelling should be rejected")
	}
	if f.Push("http://a.onion/", 1) {
		t.Error("duplicate should be rejected")
	}

	level = f.NextLevel()
	if len(level) != 2 {
		t.Fatalf("second level = %+v, want 2 items", level)
	}
	f.Push("http://c.onion", 0)
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
	if level = f.NextLevel(); len(level) != 1 || level[0].Remaining != 0 {
		t.Errorf("third level = %+v", level)
	}
	if f.NextLevel() != nil {
		t.Error("empty frontier should return nil")
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.Onion", "http://example.onion/"},
		{"http://a.onion/path#frag", "http://a.onion/path"},
		{"http://a.onion/p?q=1", "http://a.onion/p?q=1"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
