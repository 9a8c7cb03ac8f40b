package stream

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore gives the streamer access to the file a detached command
// writes its output to.
type ArtifactStore interface {
	// Remove deletes the artifact. A missing artifact is not an error.
	Remove(path string) error
	// Open returns a reader once the artifact exists.
	Open(path string) (Artifact, error)
}

// Artifact reads complete lines from a file that may still be growing.
type Artifact interface {
	// ReadLine returns the next complete line without its terminator, or
	// io.EOF when no complete line is available yet.
	ReadLine() (string, error)
	// Remainder returns output after the last newline and forgets it. The
	// streamer calls it once the command has gone silent.
	Remainder() string
	Close() error
}

// FileStore is the filesystem ArtifactStore.
type FileStore struct{}

func (FileStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (FileStore) Open(path string) (Artifact, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return &fileArtifact{f: f, r: bufio.NewReader(f)}, nil
}

type fileArtifact struct {
	f       *os.File
	r       *bufio.Reader
	pending strings.Builder
}

// ReadLine keeps a trailing partial line buffered until its newline is
// written, so a line is never split across two reads of a growing file.
func (a *fileArtifact) ReadLine() (string, error) {
	chunk, err := a.r.ReadString('\n')
	if err != nil {
		a.pending.WriteString(chunk)
		return "", err
	}
	line := chunk
	if a.pending.Len() > 0 {
		a.pending.WriteString(chunk)
		line = a.pending.String()
		a.pending.Reset()
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *fileArtifact) Remainder() string {
	rest := strings.TrimRight(a.pending.String(), "\r\n")
	a.pending.Reset()
	return rest
}

func (a *fileArtifact) Close() error {
	return a.f.Close()
}

var _ io.Closer = (*fileArtifact)(nil)
