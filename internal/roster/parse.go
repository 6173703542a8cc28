package roster

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// ParseLine converts one line of directory output into a relay address.
// It returns "" for blank lines. The console tool prints "host port";
// that form is joined into "host:port". Any other line is an opaque
// address and is kept trimmed.
func ParseLine(line string) (string, error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 0:
		return "", nil
	case 1:
		return fields[0], nil
	case 2:
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return "", fmt.Errorf("malformed roster line %q: port %q is not a number", line, fields[1])
		}
		return net.JoinHostPort(fields[0], fields[1]), nil
	default:
		return strings.TrimSpace(line), nil
	}
}

// ParseReport reads a newline-delimited roster report.
// Blank lines are skipped. Duplicates are kept; Reconcile collapses them.
func ParseReport(r io.Reader) ([]string, error) {
	var addrs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		addr, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster report: %w", err)
	}
	return addrs, nil
}
