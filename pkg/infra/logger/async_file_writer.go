package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AsyncFileWriter buffers log lines in a channel and flushes them to disk
// every flushInterval. Lines are dropped when the channel is full.
type AsyncFileWriter struct {
	writer  *bufio.Writer
	file    *os.File
	mu      sync.Mutex
	logChan chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

const flushInterval = 2 * time.Second

func NewAsyncFileWriter(logFile string, bufferSize int) (*AsyncFileWriter, error) {
	file, err := os.OpenFile(filepath.Clean(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	aw := &AsyncFileWriter{
		writer:  bufio.NewWriterSize(file, bufferSize),
		file:    file,
		logChan: make(chan []byte, 1000),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go aw.processLogs()

	return aw, nil
}

func (aw *AsyncFileWriter) Write(p []byte) (int, error) {
	select {
	case aw.logChan <- append([]byte{}, p...):
	default:
	}
	return len(p), nil
}

func (aw *AsyncFileWriter) processLogs() {
	defer close(aw.stopped)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case logData := <-aw.logChan:
			aw.write(logData)

		case <-ticker.C:
			aw.flush()

		case <-aw.done:
			for {
				select {
				case logData := <-aw.logChan:
					aw.write(logData)
				default:
					aw.flush()
					return
				}
			}
		}
	}
}

func (aw *AsyncFileWriter) write(p []byte) {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if _, err := aw.writer.Write(p); err != nil {
		fmt.Fprintln(os.Stderr, "error writing log data to file", err)
	}
}

func (aw *AsyncFileWriter) flush() {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	_ = aw.writer.Flush()
}

// Close drains pending lines, flushes and closes the file. Safe to call
// more than once.
func (aw *AsyncFileWriter) Close() error {
	var err error
	aw.once.Do(func() {
		close(aw.done)
		<-aw.stopped
		err = aw.file.Close()
	})
	return err
}
