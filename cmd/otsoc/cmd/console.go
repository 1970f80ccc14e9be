package cmd

import (
	"bytes"
	"io"
	"sync"
)

// consoleWriter prefixes every line of target output so it stands apart
// from otsoc's own messages. Writes may come from the target's goroutine.
type consoleWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	mid    bool
}

func newConsoleWriter(w io.Writer) *consoleWriter {
	return &consoleWriter{w: w, prefix: "[UART] "}
}

func (c *consoleWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(p)
	var buf bytes.Buffer
	for len(p) > 0 {
		if !c.mid {
			buf.WriteString(c.prefix)
			c.mid = true
		}
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			buf.Write(p)
			break
		}
		buf.Write(p[:i+1])
		p = p[i+1:]
		c.mid = false
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}
