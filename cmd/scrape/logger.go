package scrape

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger writes one target's log to its own file, so concurrent sessions don't interleave.
// Blobs land next to the log.
type FileLogger struct {
	File *os.File
	Dir  string

	mutex sync.Mutex
}

func (l *FileLogger) Info(format string, args ...any) {
	l.write("", format, args...)
}

func (l *FileLogger) Warn(format string, args ...any) {
	l.write("WARN: ", format, args...)
}

func (l *FileLogger) Error(format string, args ...any) {
	l.write("ERROR: ", format, args...)
}

func (l *FileLogger) Blob(key string, value []byte) {
	path := filepath.Join(l.Dir, filepath.Base(key))
	if err := os.WriteFile(path, value, 0644); err != nil {
		l.Warn("Couldn't write blob %s: %v", key, err)
		return
	}
	l.Info("Wrote blob %s (%d bytes)", path, len(value))
}

func (l *FileLogger) write(prefix string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	fmt.Fprintf(l.File, "%s %s%s\n", time.Now().Format(time.RFC3339), prefix, msg)
}
