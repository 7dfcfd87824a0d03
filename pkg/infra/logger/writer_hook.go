package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// WriterHook copies every formatted entry to an extra writer.
type WriterHook struct {
	writer io.Writer
}

func NewWriterHook(w io.Writer) *WriterHook {
	return &WriterHook{writer: w}
}

func (h *WriterHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Logger.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

func (h *WriterHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Close closes the underlying writer when it supports it.
func (h *WriterHook) Close() error {
	if c, ok := h.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
