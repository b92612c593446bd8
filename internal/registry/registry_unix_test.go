//go:build unix

package registry

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestHandleSignalsFlushesAndExits(t *testing.T) {
	r := New(nil)
	f := &countingFlusher{}
	r.Register(f)

	codes := make(chan int, 1)
	r.exit = func(code int) { codes <- code }

	stop := r.HandleSignals(context.Background())
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to signal self: %v", err)
	}

	select {
	case code := <-codes:
		if code != 128+int(syscall.SIGTERM) {
			t.Errorf("exit code = %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler did not run")
	}
	if f.count() != 1 || f.reasons[0] != syscall.SIGTERM.String() {
		t.Errorf("flush reasons = %v", f.reasons)
	}
}
