package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})

	l.Info("server started", "addr", "127.0.0.1:6379", "shards", 8)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "server started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["addr"] != "127.0.0.1:6379" {
		t.Errorf("addr = %v", entry["addr"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "text", Output: &buf})

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("sub-level entries leaked: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn entry missing: %s", out)
	}
}

func TestSetLevel_Dynamic(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "text", Output: &buf})

	l.Debug("before")
	SetLevel("debug")
	defer SetLevel("info")
	l.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Error("debug entry written before level change")
	}
	if !strings.Contains(out, "after") {
		t.Error("debug entry missing after level change")
	}
	if got := GetLevel(); got != "debug" {
		t.Errorf("GetLevel = %q, want debug", got)
	}
}

func TestWith_AttachesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})

	l.With("conn_id", "01ABC").Info("dispatch")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["conn_id"] != "01ABC" {
		t.Errorf("conn_id = %v", entry["conn_id"])
	}
}
