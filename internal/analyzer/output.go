package analyzer

import (
	"io"
	"os"
	"sync"
	"time"
)

// limitedWriter keeps at most max bytes and silently discards the rest, so
// a chatty child can not grow memory without bound
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// report the full length so the copying goroutine keeps draining
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

// outputStreams connects the child's stdout and stderr to limitedWriters
// through pipes owned by the invoker
type outputStreams struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	done             chan struct{}
}

func newOutputStreams(stdout, stderr io.Writer) (*outputStreams, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}

	s := &outputStreams{
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Go(func() { _, _ = io.Copy(stdout, stdoutR) })
	wg.Go(func() { _, _ = io.Copy(stderr, stderrR) })
	go func() {
		wg.Wait()
		close(s.done)
	}()
	return s, nil
}

// closeWriters drops the parent's copies of the write ends once the child
// holds its own
func (s *outputStreams) closeWriters() {
	s.stdoutW.Close()
	s.stderrW.Close()
}

// drain waits up to timeout for both streams to reach EOF. On timeout the
// read ends are closed and false is returned; the writers are complete
// either way once drain returns.
func (s *outputStreams) drain(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return true
	case <-timer.C:
		s.stdoutR.Close()
		s.stderrR.Close()
		<-s.done
		return false
	}
}

// close releases all pipe ends and waits for the copy goroutines
func (s *outputStreams) close() {
	s.closeWriters()
	s.stdoutR.Close()
	s.stderrR.Close()
	<-s.done
}
