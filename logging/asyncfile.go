package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/acarl005/stripansi"
)

var _ io.WriteCloser = (*AsyncFile)(nil)

// AsyncFile provides non-blocking file writing capabilities. Color escape
// sequences are stripped before bytes reach the file.
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile wraps an open file and starts the background writer.
func NewAsyncFile(file *os.File) *AsyncFile {
	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}

	af.wg.Add(1)
	go af.processQueue()

	return af
}

// Name returns the path of the underlying file.
func (af *AsyncFile) Name() string {
	return af.file.Name()
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) (int, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return 0, fmt.Errorf("async file is closed")
	}

	af.queue <- []byte(stripansi.Strip(string(data)))
	return len(data), nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer, flushes pending writes and closes the file.
// Closing twice is a no-op apart from the file close error.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// StripWriter removes color escape sequences before forwarding to W.
type StripWriter struct {
	W io.Writer
}

func (s StripWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(s.W, stripansi.Strip(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
