package bytecode

import "encoding/binary"

// WordSize is the width of one stream word in bytes.
const WordSize = 4

// Stream is a random-access, read-only sequence of code words. Positions
// are word indices; the decoder never interprets a word beyond reading it.
type Stream interface {
	// Len returns the number of whole words in the stream.
	Len() int
	// Word returns the word at pos. Callers keep pos in [0, Len()).
	Word(pos int) int32
}

// Words is an in-memory word stream.
type Words []int32

// Len implements Stream.
func (w Words) Len() int { return len(w) }

// Word implements Stream.
func (w Words) Word(pos int) int32 { return w[pos] }

// Bytes is a byte buffer read as little-endian 32-bit words. A trailing
// partial word is not part of the stream.
type Bytes []byte

// Len implements Stream.
func (b Bytes) Len() int { return len(b) / WordSize }

// Word implements Stream.
func (b Bytes) Word(pos int) int32 {
	return int32(binary.LittleEndian.Uint32(b[pos*WordSize:]))
}

// Trailing returns the number of bytes after the last whole word.
func (b Bytes) Trailing() int { return len(b) % WordSize }

// EncodeWords writes words as a little-endian byte buffer.
func EncodeWords(words []int32) Bytes {
	buf := make([]byte, 0, len(words)*WordSize)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(w))
	}
	return buf
}

// ReadWords copies a stream into memory.
func ReadWords(s Stream) Words {
	out := make(Words, s.Len())
	for i := range out {
		out[i] = s.Word(i)
	}
	return out
}
