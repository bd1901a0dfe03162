package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUsageDoesNotTouchQueue(t *testing.T) {
	for _, args := range [][]string{nil, {"help"}, {"help", "run"}} {
		queueDir := filepath.Join(t.TempDir(), "queue")
		t.Setenv("QUEUE_DIR", queueDir)

		if _, err := execute(t, args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		if _, err := os.Stat(queueDir); !os.IsNotExist(err) {
			t.Errorf("%v created the queue directory", args)
		}
	}
}

func TestPendingListsQueue(t *testing.T) {
	queueDir := filepath.Join(t.TempDir(), "queue")

	out, err := execute(t, "pending", "--queue-dir", queueDir)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if !strings.Contains(out, "ID") {
		t.Errorf("Output = %q", out)
	}
	if _, err := os.Stat(queueDir); err != nil {
		t.Errorf("Queue directory should exist: %v", err)
	}
}
