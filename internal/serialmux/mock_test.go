package serialmux

import (
	"context"
	"testing"
	"time"
)

func TestPressureRamp(t *testing.T) {
	ramp := PressureRamp(10, 0.5)
	if got := string(ramp(0)); got != "P=10.00 PSI\r\n" {
		t.Errorf("ramp(0) = %q", got)
	}
	if got := string(ramp(3)); got != "P=11.50 PSI\r\n" {
		t.Errorf("ramp(3) = %q", got)
	}
}

func TestNewMockSerialMux(t *testing.T) {
	mux := NewMockSerialMux(PressureRamp(1, 1), 5*time.Millisecond)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	if got := recvLine(t, ch); got != "P=1.00 PSI" {
		t.Errorf("first line = %q", got)
	}
	if got := recvLine(t, ch); got != "P=2.00 PSI" {
		t.Errorf("second line = %q", got)
	}

	if err := mux.SendCommand("Z"); err != nil {
		t.Errorf("SendCommand() = %v", err)
	}
	if got := mux.port.Written(); got != "Z\n" {
		t.Errorf("Written() = %q", got)
	}

	if err := mux.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor() after Close = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}
