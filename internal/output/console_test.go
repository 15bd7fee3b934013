package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func TestConsole_Lines(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Stage("Getting networks...")
	c.Printf("Found %d network(s)!", 3)
	c.Progress("devices", 2, 5)
	c.Done(1500 * time.Millisecond)
	c.Incomplete(2 * time.Second)

	want := strings.Join([]string{
		"Getting networks...",
		"Found 3 network(s)!",
		"  devices: 2/5",
		"DONE. Total elapsed seconds: 1.500",
		"INCOMPLETE. Total elapsed seconds: 2.000",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Fatalf("unexpected console output:\n%s\nwant:\n%s", got, want)
	}
}

func TestConsole_NilIsNoop(t *testing.T) {
	var c *Console
	c.Stage("x")
	c.Printf("x")
	c.Progress("x", 1, 1)
	c.Done(time.Second)
	c.Incomplete(time.Second)
}
