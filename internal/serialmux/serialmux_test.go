package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvLine(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if mux.port != port {
		t.Error("SerialMux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("SerialMux subscribers map not initialized")
	}
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Error("Subscription IDs should be unique")
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	mux.Unsubscribe(id1) // no-op

	if len(mux.subscribers) != 1 {
		t.Errorf("subscribers = %d, want 1", len(mux.subscribers))
	}
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("P=1.25 PSI\r\nP=1.50 PSI\rP=1.75 PSI\n"))

	for _, want := range []string{"P=1.25 PSI", "P=1.50 PSI", "P=1.75 PSI"} {
		if got := recvLine(t, a); got != want {
			t.Errorf("subscriber a got %q, want %q", got, want)
		}
		if got := recvLine(t, b); got != want {
			t.Errorf("subscriber b got %q, want %q", got, want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	if mux.Lines() != 3 {
		t.Errorf("Lines() = %d, want 3", mux.Lines())
	}
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	unplugged := errors.New("device not configured")
	port.FailReads(unplugged)

	select {
	case err := <-done:
		if !errors.Is(err, unplugged) {
			t.Errorf("Monitor() = %v, want %v", err, unplugged)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after read error")
	}
}

func TestSerialMux_MonitorEndsAtEOF(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("12.5\n"))
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() = %v, want nil at EOF", err)
	}
	if got := recvLine(t, ch); got != "12.5" {
		t.Errorf("got %q, want %q", got, "12.5")
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("Z"); err != nil {
		t.Fatalf("SendCommand() = %v", err)
	}
	if err := mux.SendCommand("R\n"); err != nil {
		t.Fatalf("SendCommand() = %v", err)
	}
	if got := string(port.GetWrittenData()); got != "Z\nR\n" {
		t.Errorf("written = %q", got)
	}
}

func TestSerialMux_Probe(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Probe(); err != nil {
		t.Errorf("Probe() = %v, want nil", err)
	}
	if len(port.GetWrittenData()) != 0 {
		t.Error("Probe should not write any bytes")
	}

	gone := errors.New("no such device")
	port.SetWriteError(gone)
	if err := mux.Probe(); !errors.Is(err, gone) {
		t.Errorf("Probe() = %v, want %v", err, gone)
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
	if err := mux.Probe(); !errors.Is(err, ErrClosed) {
		t.Errorf("Probe() after Close = %v, want ErrClosed", err)
	}
	if err := mux.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	_, late := mux.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestScanLines(t *testing.T) {
	data := []byte("\r\n\r\na\r\nb")
	adv, tok, err := scanLines(data, false)
	if err != nil || string(tok) != "a" || adv != 6 {
		t.Errorf("scanLines = %d %q %v", adv, tok, err)
	}
	adv, tok, _ = scanLines(data[adv:], false)
	if tok != nil || adv != 1 {
		t.Errorf("partial line should wait for more data, got %d %q", adv, tok)
	}
	_, tok, _ = scanLines([]byte("b"), true)
	if string(tok) != "b" {
		t.Errorf("final token = %q, want b", tok)
	}
}

func TestOpenSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	mux, err := OpenSerialMux(factory, "/dev/ttyUSB0", PortOptions{ReadTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenSerialMux() = %v", err)
	}
	if mux == nil {
		t.Fatal("OpenSerialMux returned nil mux")
	}
	if call := factory.LastCall(); call == nil || call.Path != "/dev/ttyUSB0" {
		t.Errorf("LastCall() = %+v", call)
	}
	if port.ReadTimeout != 200*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 200ms", port.ReadTimeout)
	}

	factory.Error = errors.New("permission denied")
	if _, err := OpenSerialMux(factory, "/dev/ttyUSB1", PortOptions{}); err == nil {
		t.Error("expected error from failing factory")
	}
}
