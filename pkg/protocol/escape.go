package protocol

// The server protocol delimits frames with a NUL byte. Payloads that may
// contain 0x00 or 0xFF (query bindings, document inputs, result items)
// escape both by prefixing them with 0xFF. A NUL is a frame terminator only
// when it is not preceded by an odd-length run of 0xFF bytes; scanning from
// the start of the stream keeps that unambiguous.

const (
	escByte = 0xFF
	nulByte = 0x00
)

// Escape appends the escaped form of src to dst and returns the extended
// slice. Bytes other than 0x00 and 0xFF are copied through unchanged.
func Escape(dst, src []byte) []byte {
	for _, b := range src {
		if b == nulByte || b == escByte {
			dst = append(dst, escByte)
		}
		dst = append(dst, b)
	}
	return dst
}

// Unescape removes escape prefixes from data in place and returns the
// shortened slice. A trailing lone 0xFF is kept as-is; it can only occur on
// malformed input since frames never end mid escape sequence.
func Unescape(data []byte) []byte {
	// Fast path: nothing to unescape.
	i := 0
	for i < len(data) && data[i] != escByte {
		i++
	}
	if i == len(data) {
		return data
	}

	w := i
	for i < len(data) {
		b := data[i]
		if b == escByte && i+1 < len(data) {
			next := data[i+1]
			if next == nulByte || next == escByte {
				data[w] = next
				w++
				i += 2
				continue
			}
		}
		data[w] = b
		w++
		i++
	}
	return data[:w]
}

// NeedsEscape reports whether src contains bytes that Escape would prefix.
func NeedsEscape(src []byte) bool {
	for _, b := range src {
		if b == nulByte || b == escByte {
			return true
		}
	}
	return false
}
