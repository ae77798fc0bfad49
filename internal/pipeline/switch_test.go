package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSwitchKillCancelsContext(t *testing.T) {
	ctx, sw := NewSwitch(context.Background())

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before Kill")
	default:
	}

	sw.Kill()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Kill did not cancel the context")
	}
}

func TestSwitchKillIsIdempotent(t *testing.T) {
	ctx, sw := NewSwitch(context.Background())

	sw.Kill()
	sw.Kill()
	sw.Kill()

	assert.Error(t, ctx.Err())
}

func TestSwitchKillFromManyGoroutines(t *testing.T) {
	_, sw := NewSwitch(context.Background())

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			sw.Kill()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("concurrent Kill deadlocked")
		}
	}
}

func TestSwitchDoneResolvesAfterFinish(t *testing.T) {
	_, sw := NewSwitch(context.Background())

	select {
	case <-sw.Done():
		t.Fatal("done resolved before the attempt unwound")
	default:
	}

	sw.Kill()
	sw.finish()

	select {
	case <-sw.Done():
	case <-time.After(time.Second):
		t.Fatal("done did not resolve after finish")
	}
}

func TestSwitchInheritsParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, _ := NewSwitch(parent)

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("attempt context did not follow parent cancellation")
	}
}
