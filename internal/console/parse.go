// Package console implements the interactive protocol console behind
// cmd/basex.
package console

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xqlabs/basex-go/pkg/protocol"
)

// Command is one parsed console line: either a database command to execute,
// or a raw opcode with arguments.
type Command struct {
	// Exec, when non-empty, is a database command run through the regular
	// command protocol.
	Exec string

	// Op and Args describe a raw request: the opcode byte followed by
	// NUL-terminated arguments.
	Op   protocol.Opcode
	Args []string
}

// token matches either a decimal byte value or a quoted string. Quotes
// escaped with a backslash stay inside the token.
var token = regexp.MustCompile(`(\d+)|'((?:\\.|[^'\\])*)'|"((?:\\.|[^"\\])*)"`)

// Parse interprets a console line. Lines starting with a decimal number are
// raw requests: the number is the opcode, quoted strings and further numbers
// are the arguments (numbers become single bytes). Anything else is a plain
// database command. Blank lines parse to nil.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if line[0] < '0' || line[0] > '9' {
		return &Command{Exec: line}, nil
	}

	matches := token.FindAllStringSubmatch(line, -1)
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil || n > 0xFF {
				return nil, fmt.Errorf("byte value out of range: %s", m[1])
			}
			parts = append(parts, string([]byte{byte(n)}))
			continue
		}
		if m[2] != "" || strings.HasPrefix(m[0], "'") {
			parts = append(parts, m[2])
		} else {
			parts = append(parts, m[3])
		}
	}

	return &Command{
		Op:   protocol.Opcode(parts[0][0]),
		Args: parts[1:],
	}, nil
}
