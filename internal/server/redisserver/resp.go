package redisserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol limits to prevent unbounded allocations from malformed or
// hostile input.
const (
	// MaxArrayLen limits the number of elements in a request array.
	MaxArrayLen = 1024

	// MaxBulkLen limits the size of a single bulk string (512KB).
	MaxBulkLen = 512 * 1024

	// MaxInlineLen limits inline command line length (4KB).
	MaxInlineLen = 4 * 1024

	// maxHeaderLen bounds a type header line such as "*<n>\r\n".
	maxHeaderLen = 64
)

var (
	// ErrProtocol marks malformed RESP framing. Fatal to the connection.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrLimitExceeded marks input past a protocol limit. Fatal to the
	// connection.
	ErrLimitExceeded = errors.New("resp: limit exceeded")

	// ErrIncomplete means the buffer ends mid-message. Not a failure:
	// the caller buffers more bytes and decodes again.
	ErrIncomplete = errors.New("resp: incomplete message")
)

// Decode parses one complete request from the front of buf and returns
// the argument list plus the number of bytes consumed. It is stateless
// and re-entrant: on ErrIncomplete nothing is consumed and the caller
// retries with a longer buffer once more bytes arrive.
//
// A request is an array of bulk strings, or a bare inline command line
// for compatibility with simple test clients. Argument boundaries come
// only from length prefixes, never from scanning content, so arguments
// may contain any bytes including CRLF.
func Decode(buf []byte) ([][]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}
	if buf[0] == '*' {
		return decodeArray(buf)
	}
	return decodeInline(buf)
}

func decodeArray(buf []byte) ([][]byte, int, error) {
	line, pos, err := decodeLine(buf, 0, maxHeaderLen)
	if err != nil {
		return nil, 0, err
	}
	n, err := strconv.Atoi(string(line[1:]))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid array length %q", ErrProtocol, line[1:])
	}
	if n <= 0 {
		// *0 and the null array *-1 both carry no command.
		return nil, pos, nil
	}
	if n > MaxArrayLen {
		return nil, 0, fmt.Errorf("%w: array length %d exceeds limit %d", ErrLimitExceeded, n, MaxArrayLen)
	}

	args := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		var arg []byte
		arg, pos, err = decodeBulk(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		args = append(args, arg)
	}
	return args, pos, nil
}

func decodeBulk(buf []byte, pos int) ([]byte, int, error) {
	line, pos, err := decodeLine(buf, pos, maxHeaderLen)
	if err != nil {
		return nil, 0, err
	}
	if line[0] != '$' {
		return nil, 0, fmt.Errorf("%w: expected bulk string, got %q", ErrProtocol, line[0])
	}

	n, err := strconv.Atoi(string(line[1:]))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid bulk length %q", ErrProtocol, line[1:])
	}
	if n == -1 {
		// Null bulk string: distinct from the zero-length "".
		return nil, pos, nil
	}
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: negative bulk length", ErrProtocol)
	}
	if n > MaxBulkLen {
		return nil, 0, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrLimitExceeded, n, MaxBulkLen)
	}

	if len(buf) < pos+n+2 {
		return nil, 0, ErrIncomplete
	}
	if buf[pos+n] != '\r' || buf[pos+n+1] != '\n' {
		return nil, 0, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return buf[pos : pos+n], pos + n + 2, nil
}

func decodeInline(buf []byte) ([][]byte, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx == -1 {
		if len(buf) > MaxInlineLen {
			return nil, 0, fmt.Errorf("%w: inline command exceeds limit %d", ErrLimitExceeded, MaxInlineLen)
		}
		return nil, 0, ErrIncomplete
	}
	if idx+1 > MaxInlineLen {
		return nil, 0, fmt.Errorf("%w: inline command exceeds limit %d", ErrLimitExceeded, MaxInlineLen)
	}

	line := buf[:idx]
	line = bytes.TrimSuffix(line, []byte("\r"))

	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, idx + 1, nil
	}
	// Simple test clients send "+PING"; the marker byte is framing, not
	// part of the command name.
	if fields[0][0] == '+' {
		fields[0] = fields[0][1:]
		if len(fields[0]) == 0 {
			return nil, idx + 1, nil
		}
	}
	args := make([][]byte, len(fields))
	copy(args, fields)
	return args, idx + 1, nil
}

// decodeLine reads one CRLF-terminated header line starting at pos and
// returns the line without its terminator plus the offset just past it.
func decodeLine(buf []byte, pos, maxLen int) ([]byte, int, error) {
	rest := buf[pos:]
	idx := bytes.IndexByte(rest, '\n')
	if idx == -1 {
		if len(rest) > maxLen {
			return nil, 0, fmt.Errorf("%w: header line exceeds limit %d", ErrLimitExceeded, maxLen)
		}
		return nil, 0, ErrIncomplete
	}
	if idx+1 > maxLen {
		return nil, 0, fmt.Errorf("%w: header line exceeds limit %d", ErrLimitExceeded, maxLen)
	}
	if idx == 0 || rest[idx-1] != '\r' {
		return nil, 0, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	line := rest[:idx-1]
	if len(line) < 1 {
		return nil, 0, fmt.Errorf("%w: empty header line", ErrProtocol)
	}
	return line, pos + idx + 1, nil
}

func WriteSimpleString(w *bufio.Writer, s string) error {
	_, err := w.WriteString("+" + s + "\r\n")
	return err
}

func WriteError(w *bufio.Writer, s string) error {
	_, err := w.WriteString("-" + s + "\r\n")
	return err
}

func WriteInteger(w *bufio.Writer, n int64) error {
	_, err := w.WriteString(":" + strconv.FormatInt(n, 10) + "\r\n")
	return err
}

func WriteNullBulk(w *bufio.Writer) error {
	_, err := w.WriteString("$-1\r\n")
	return err
}

func WriteNullArray(w *bufio.Writer) error {
	_, err := w.WriteString("*-1\r\n")
	return err
}

func WriteBulk(w *bufio.Writer, b []byte) error {
	if b == nil {
		return WriteNullBulk(w)
	}
	if _, err := w.WriteString("$" + strconv.Itoa(len(b)) + "\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

func WriteBulkString(w *bufio.Writer, s string) error {
	if _, err := w.WriteString("$" + strconv.Itoa(len(s)) + "\r\n"); err != nil {
		return err
	}
	if _, err := w.WriteString(s); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

func WriteArrayHeader(w *bufio.Writer, n int) error {
	_, err := w.WriteString("*" + strconv.Itoa(n) + "\r\n")
	return err
}

func normalizeCommandName(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	// Uppercase ASCII without allocating for already uppercased tokens.
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
