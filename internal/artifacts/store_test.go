package artifacts

import (
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore()
	content := strings.Repeat("abcdefghij", 100)
	id := s.Put(content)

	got, ok := s.Get(id, 0, len(content))
	if !ok || got != content {
		t.Fatalf("Get full = (%.20q..., %v), want stored content", got, ok)
	}
	if n, ok := s.Size(id); !ok || n != len(content) {
		t.Errorf("Size = (%d, %v), want (%d, true)", n, ok, len(content))
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestGetClampsBounds(t *testing.T) {
	s := NewStore()
	id := s.Put("0123456789")

	tests := []struct {
		name          string
		start, length int
		want          string
	}{
		{"middle slice", 2, 3, "234"},
		{"negative start", -5, 3, "012"},
		{"length past end", 8, 100, "89"},
		{"start past end", 20, 5, ""},
		{"zero length", 0, 0, ""},
		{"negative length", 0, -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Get(id, tt.start, tt.length)
			if !ok {
				t.Fatal("Get reported unknown id")
			}
			if got != tt.want {
				t.Errorf("Get(%d, %d) = %q, want %q", tt.start, tt.length, got, tt.want)
			}
		})
	}
}

func TestUnknownID(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("nope", 0, 10); ok {
		t.Error("Get on unknown id reported ok")
	}
	if _, ok := s.Size("nope"); ok {
		t.Error("Size on unknown id reported ok")
	}
}

func TestIDsAreUnique(t *testing.T) {
	s := NewStore()
	a := s.Put("one")
	b := s.Put("one")
	if a == b {
		t.Fatalf("Put returned duplicate id %q for separate calls", a)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}
