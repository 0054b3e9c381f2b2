package ingest

import (
	"context"
	"os"
	"testing"
	"time"
)

type recordingSink struct{ lines []string }

func (s *recordingSink) Enqueue(line string) { s.lines = append(s.lines, line) }

func TestRunPushesCompletedLines(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, r, sink, nil) }()

	w.WriteString("BEGIN|\nADD|rid:1.1.1.1\nCOMMIT|\n")
	w.Close()

	<-done
	if len(sink.lines) != 3 {
		t.Fatalf("lines = %v, want 3", sink.lines)
	}
}
