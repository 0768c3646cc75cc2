package gateway

import (
	"bytes"
	"testing"
)

func TestSplitIncompleteRune(t *testing.T) {
	euro := []byte("€") // 3 bytes
	grin := []byte("😀") // 4 bytes
	tests := []struct {
		name     string
		in       []byte
		complete string
		tail     []byte
	}{
		{"ascii", []byte("hello"), "hello", nil},
		{"empty", []byte{}, "", nil},
		{"whole multibyte", []byte("a€"), "a€", nil},
		{"cut 3-byte after 1", append([]byte("a"), euro[:1]...), "a", euro[:1]},
		{"cut 3-byte after 2", append([]byte("a"), euro[:2]...), "a", euro[:2]},
		{"cut 4-byte after 3", append([]byte("ab"), grin[:3]...), "ab", grin[:3]},
		{"whole 4-byte", append([]byte("ab"), grin...), "ab😀", nil},
		{"only partial", euro[:2], "", euro[:2]},
		{"invalid byte kept", []byte("a\xff"), "a\xff", nil},
		{"stray continuation kept", []byte("a\x80"), "a\x80", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, tail := splitIncompleteRune(tt.in)
			if string(complete) != tt.complete {
				t.Errorf("complete = %q, want %q", complete, tt.complete)
			}
			if !bytes.Equal(tail, tt.tail) {
				t.Errorf("tail = %x, want %x", tail, tt.tail)
			}
		})
	}
}
