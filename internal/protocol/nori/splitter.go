// internal/protocol/nori/splitter.go
package nori

import (
	"bytes"
	"iter"
)

// Frames yields every candidate frame in buf that is followed by a CR LF delimiter.
// Bytes after the last delimiter are dropped; nothing is carried between calls.
// The yielded slices alias buf.
func Frames(buf []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		rest := buf
		for {
			i := bytes.Index(rest, Delimiter)
			if i < 0 {
				return
			}
			if !yield(rest[:i]) {
				return
			}
			rest = rest[i+len(Delimiter):]
		}
	}
}

// SplitFrames collects Frames into a slice
func SplitFrames(buf []byte) [][]byte {
	var frames [][]byte
	for frame := range Frames(buf) {
		frames = append(frames, frame)
	}
	return frames
}
