package gateway

import "unicode/utf8"

// splitIncompleteRune splits p before a trailing UTF-8 sequence that has been
// cut short. Invalid bytes are not held back; only a valid prefix of a
// multibyte rune is.
func splitIncompleteRune(p []byte) (complete, tail []byte) {
	start := len(p) - utf8.UTFMax + 1
	if start < 0 {
		start = 0
	}
	for i := len(p) - 1; i >= start; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if !utf8.FullRune(p[i:]) {
			return p[:i], p[i:]
		}
		break
	}
	return p, nil
}
