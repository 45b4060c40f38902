package redisserver

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecode_Array(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple PING command",
			input: "*1\r\n$4\r\nPING\r\n",
			want:  []string{"PING"},
		},
		{
			name:  "GET command",
			input: "*2\r\n$3\r\nGET\r\n$6\r\nmykey1\r\n",
			want:  []string{"GET", "mykey1"},
		},
		{
			name:  "SET command with value",
			input: "*3\r\n$3\r\nSET\r\n$5\r\nmykey\r\n$7\r\nmyvalue\r\n",
			want:  []string{"SET", "mykey", "myvalue"},
		},
		{
			name:  "zero-length bulk argument",
			input: "*2\r\n$4\r\nECHO\r\n$0\r\n\r\n",
			want:  []string{"ECHO", ""},
		},
		{
			name:  "argument containing CRLF",
			input: "*2\r\n$4\r\nECHO\r\n$7\r\na\r\nb\r\nc\r\n",
			want:  []string{"ECHO", "a\r\nb\r\nc"},
		},
		{
			name:  "empty array",
			input: "*0\r\n",
			want:  nil,
		},
		{
			name:  "null array",
			input: "*-1\r\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, n, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n != len(tt.input) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.input))
			}
			if len(args) != len(tt.want) {
				t.Fatalf("args = %q, want %q", args, tt.want)
			}
			for i := range args {
				if string(args[i]) != tt.want[i] {
					t.Errorf("arg[%d] = %q, want %q", i, args[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecode_Inline(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple PING", "PING\r\n", []string{"PING"}},
		{"simple-string marker stripped", "+PING\r\n", []string{"PING"}},
		{"marker stripped with args", "+GET mykey\r\n", []string{"GET", "mykey"}},
		{"bare marker", "+\r\n", nil},
		{"inline with args", "GET mykey\r\n", []string{"GET", "mykey"}},
		{"bare LF terminator", "PING\n", []string{"PING"}},
		{"empty line", "\r\n", nil},
		{"whitespace only", "   \r\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, n, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n != len(tt.input) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.input))
			}
			if len(args) != len(tt.want) {
				t.Fatalf("args = %q, want %q", args, tt.want)
			}
			for i := range args {
				if string(args[i]) != tt.want[i] {
					t.Errorf("arg[%d] = %q, want %q", i, args[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecode_InlineSimpleString(t *testing.T) {
	// A raw "+PING\r\n" from a naive test client must dispatch as PING,
	// so the decoder strips the marker before the name reaches the
	// command table.
	args, _, err := Decode([]byte("+PING\r\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(args) != 1 || string(args[0]) != "PING" {
		t.Fatalf("args = %q, want [PING]", args)
	}
}

func TestDecode_Incomplete(t *testing.T) {
	inputs := []string{
		"",
		"*",
		"*2",
		"*2\r\n",
		"*2\r\n$3\r\nfoo",
		"*2\r\n$3\r\nfoo\r\n",
		"*2\r\n$3\r\nfoo\r\n$3\r\nba",
		"$5\r", // not an array, but not a full inline line either
		"PING",
	}

	for _, input := range inputs {
		t.Run(strings.ReplaceAll(input, "\r\n", "/"), func(t *testing.T) {
			_, n, err := Decode([]byte(input))
			if !errors.Is(err, ErrIncomplete) {
				t.Fatalf("Decode(%q) err = %v, want ErrIncomplete", input, err)
			}
			if n != 0 {
				t.Errorf("consumed %d bytes on incomplete input", n)
			}
		})
	}
}

func TestDecode_ResumesAtAnySplitPoint(t *testing.T) {
	full := "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"

	for split := 1; split < len(full); split++ {
		prefix := full[:split]
		if _, _, err := Decode([]byte(prefix)); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("split %d: prefix err = %v, want ErrIncomplete", split, err)
		}

		args, n, err := Decode([]byte(full))
		if err != nil {
			t.Fatalf("split %d: full decode err = %v", split, err)
		}
		if n != len(full) {
			t.Fatalf("split %d: consumed %d, want %d", split, n, len(full))
		}
		if len(args) != 3 || string(args[0]) != "SET" || string(args[2]) != "bar" {
			t.Fatalf("split %d: args = %q", split, args)
		}
	}
}

func TestDecode_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"non-numeric array length", "*abc\r\n", ErrProtocol},
		{"non-numeric bulk length", "*1\r\n$xyz\r\n", ErrProtocol},
		{"negative bulk length", "*1\r\n$-2\r\n", ErrProtocol},
		{"missing bulk terminator", "*1\r\n$3\r\nfooXY", ErrProtocol},
		{"LF without CR", "*1\n$4\r\nPING\r\n", ErrProtocol},
		{"unexpected element type", "*1\r\n:42\r\n", ErrProtocol},
		{"simple string element", "*1\r\n+PING\r\n", ErrProtocol},
		{"array over limit", "*100000\r\n", ErrLimitExceeded},
		{"bulk over limit", "*1\r\n$9999999\r\n", ErrLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%q) err = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestDecode_NullBulkElement(t *testing.T) {
	args, _, err := Decode([]byte("*2\r\n$4\r\nECHO\r\n$-1\r\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("args = %q", args)
	}
	if args[1] != nil {
		t.Errorf("null bulk element = %q, want nil", args[1])
	}
}

func TestDecode_Pipelined(t *testing.T) {
	buf := []byte("*1\r\n$4\r\nPING\r\n*2\r\n$4\r\nECHO\r\n$2\r\nhi\r\n")

	args, n, err := Decode(buf)
	if err != nil || string(args[0]) != "PING" {
		t.Fatalf("first decode = %q, %v", args, err)
	}

	args, m, err := Decode(buf[n:])
	if err != nil || string(args[0]) != "ECHO" || string(args[1]) != "hi" {
		t.Fatalf("second decode = %q, %v", args, err)
	}
	if n+m != len(buf) {
		t.Errorf("consumed %d bytes total, want %d", n+m, len(buf))
	}
}

func TestWrite_Encoding(t *testing.T) {
	tests := []struct {
		name  string
		write func(*bufio.Writer) error
		want  string
	}{
		{"simple string", func(w *bufio.Writer) error { return WriteSimpleString(w, "OK") }, "+OK\r\n"},
		{"error", func(w *bufio.Writer) error { return WriteError(w, "ERR boom") }, "-ERR boom\r\n"},
		{"integer", func(w *bufio.Writer) error { return WriteInteger(w, 42) }, ":42\r\n"},
		{"negative integer", func(w *bufio.Writer) error { return WriteInteger(w, -7) }, ":-7\r\n"},
		{"bulk", func(w *bufio.Writer) error { return WriteBulk(w, []byte("bar")) }, "$3\r\nbar\r\n"},
		{"empty bulk", func(w *bufio.Writer) error { return WriteBulk(w, []byte{}) }, "$0\r\n\r\n"},
		{"nil bulk", func(w *bufio.Writer) error { return WriteBulk(w, nil) }, "$-1\r\n"},
		{"null bulk", WriteNullBulk, "$-1\r\n"},
		{"null array", WriteNullArray, "*-1\r\n"},
		{"binary bulk", func(w *bufio.Writer) error { return WriteBulk(w, []byte("a\r\nb")) }, "$4\r\na\r\nb\r\n"},
		{"array header", func(w *bufio.Writer) error { return WriteArrayHeader(w, 2) }, "*2\r\n"},
		{"bulk string", func(w *bufio.Writer) error { return WriteBulkString(w, "hello") }, "$5\r\nhello\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			if err := tt.write(w); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := w.Flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("encoded %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeCommandName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"get", "GET"},
		{"GET", "GET"},
		{"BlPoP", "BLPOP"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeCommandName([]byte(tt.in)); got != tt.want {
			t.Errorf("normalizeCommandName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
