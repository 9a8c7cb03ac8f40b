package stream

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRemoveMissingIsNotError(t *testing.T) {
	if err := (FileStore{}).Remove(filepath.Join(t.TempDir(), "absent.txt")); err != nil {
		t.Fatalf("Remove of missing file: %v", err)
	}
}

func TestFileArtifactHoldsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.txt")
	w, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer w.Close()

	art, err := (FileStore{}).Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer art.Close()

	if _, err := art.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("empty file: err = %v, want io.EOF", err)
	}

	if _, err := w.WriteString("[  5]   0.00-1.00   sec   112 MBytes   9"); err != nil {
		t.Fatal(err)
	}
	if _, err := art.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("partial line: err = %v, want io.EOF", err)
	}

	if _, err := w.WriteString("41 Mbits/sec\r\nnext\n"); err != nil {
		t.Fatal(err)
	}
	line, err := art.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if want := "[  5]   0.00-1.00   sec   112 MBytes   941 Mbits/sec"; line != want {
		t.Fatalf("line = %q, want %q", line, want)
	}
	if line, err = art.ReadLine(); err != nil || line != "next" {
		t.Fatalf("second line = %q, %v", line, err)
	}
	if _, err := art.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("drained file: err = %v, want io.EOF", err)
	}
	if rest := art.Remainder(); rest != "" {
		t.Fatalf("Remainder after complete lines = %q", rest)
	}

	if _, err := w.WriteString("iperf Done.\r"); err != nil {
		t.Fatal(err)
	}
	if _, err := art.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("unterminated line: err = %v, want io.EOF", err)
	}
	if rest := art.Remainder(); rest != "iperf Done." {
		t.Fatalf("Remainder = %q, want %q", rest, "iperf Done.")
	}
	if rest := art.Remainder(); rest != "" {
		t.Fatalf("second Remainder = %q, want empty", rest)
	}
}

func TestInvocationCommandExpandsArtifact(t *testing.T) {
	inv := Invocation{
		CommandLine:  "iperf3 -c host -R --logfile {artifact}",
		ArtifactPath: "/tmp/download_stream.txt",
	}
	if got, want := inv.Command(), "iperf3 -c host -R --logfile /tmp/download_stream.txt"; got != want {
		t.Fatalf("Command() = %q, want %q", got, want)
	}
}
