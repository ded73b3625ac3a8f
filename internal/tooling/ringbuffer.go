package tooling

import "syscall"

// sigterm is sent when the command deadline expires; WaitDelay escalates to
// SIGKILL if the process ignores it.
var sigterm = syscall.SIGTERM

// ringBuffer keeps the last max bytes written to it. Long tool output is
// truncated from the front so the tail (usually the interesting part)
// survives.
type ringBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
		r.truncated = true
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	if r.truncated {
		return "[earlier output truncated]\n" + string(r.buf)
	}
	return string(r.buf)
}
