package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSimpleProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(100)
	progress.Add(50)
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Progress:") {
		t.Errorf("output %q does not contain Progress:", output)
	}
	if !strings.Contains(output, "(100/100)") {
		t.Errorf("output %q does not end at 100/100", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("Finish() should end the line")
	}
}

func TestSimpleProgressUnknownTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(0)
	progress.Add(7)
	progress.Finish()

	if !strings.Contains(buf.String(), "Processed: 7 records") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSimpleProgressError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(10)
	progress.Error(errors.New("disk full"))

	if !strings.Contains(buf.String(), "Error: disk full") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNilWriterDiscards(t *testing.T) {
	progress := NewProgressReporter(nil)
	progress.Start(1)
	progress.Add(1)
	progress.Finish()
}
