package command

import (
	"bytes"
	"fmt"
	"sync"
)

const delimiter = '\n'

// stderrBuffer is an io.Writer keeping a bounded prefix of what a process
// writes to stderr: at most bufLimit bytes in total and lineLimit bytes per
// line. Writes never fail and always report the full input as consumed.
type stderrBuffer struct {
	mu        sync.Mutex
	buf       []byte
	bufLimit  int
	lineLimit int
	lineSep   []byte

	currentLineLength int
}

func newStderrBuffer(bufLimit, lineLimit int, lineSep []byte) (*stderrBuffer, error) {
	if bufLimit < 0 || lineLimit < 0 {
		return nil, fmt.Errorf("invalid limit")
	}
	if len(lineSep) == 0 {
		lineSep = []byte{delimiter}
	}

	return &stderrBuffer{
		buf:       make([]byte, 0, lineLimit),
		bufLimit:  bufLimit,
		lineLimit: lineLimit,
		lineSep:   lineSep,
	}, nil
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bufLimit <= 0 || b.lineLimit <= 0 {
		return len(p), nil
	}

	for rest := p; len(rest) > 0 && len(b.buf) < b.bufLimit; {
		line := rest
		newline := false
		if i := bytes.IndexByte(rest, delimiter); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
			newline = true
		} else {
			rest = nil
		}

		line = line[:minInt(len(line), b.lineLimit-b.currentLineLength, b.bufLimit-len(b.buf))]
		b.buf = append(b.buf, line...)

		if !newline {
			b.currentLineLength += len(line)
			continue
		}

		b.currentLineLength = 0
		if len(b.buf)+len(b.lineSep) > b.bufLimit {
			break
		}
		b.buf = append(b.buf, b.lineSep...)
	}

	return len(p), nil
}

func (b *stderrBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func minInt(first int, candidates ...int) int {
	res := first
	for _, val := range candidates {
		if val < res {
			res = val
		}
	}
	return res
}
