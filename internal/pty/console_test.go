package pty

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// deviceScript prints a prompt and answers every line with another prompt.
const deviceScript = `sh -c 'printf "lab#"; while read line; do printf "lab#"; done'`

func readUntil(t *testing.T, c *Console, suffix string) string {
	t.Helper()
	var out strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.HasSuffix(out.String(), suffix) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q, got %q", suffix, out.String())
		}
		n, err := c.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			t.Fatalf("Read: %v (got %q)", err, out.String())
		}
	}
	return out.String()
}

func TestConsoleEchoAndPrompt(t *testing.T) {
	c, err := Start(deviceScript, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	readUntil(t, c, "lab#")
	if _, err := c.WriteString("show run\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	// The terminal echoes the line before the script prints its prompt.
	if out := readUntil(t, c, "lab#"); out != "show run\r\nlab#" {
		t.Errorf("output = %q", out)
	}
}

func TestConsoleReportsEOF(t *testing.T) {
	c, err := Start("printf done", Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	var out strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := c.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Read error = %v, want io.EOF", err)
			}
			break
		}
	}
	if out.String() != "done" {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsoleClose(t *testing.T) {
	c, err := Start("sleep 30", Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Pid() == 0 {
		t.Error("Pid() = 0")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-c.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	if _, err := Start("  ", Options{}); err == nil {
		t.Error("expected error for empty command")
	}
}
