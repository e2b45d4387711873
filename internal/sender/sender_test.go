package sender

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/receiver"
	"github.com/localshare-go/localshare/internal/transfer"
)

func startTestReceiver(t *testing.T, addr string) (*receiver.Receiver, string) {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	dir := t.TempDir()
	r, err := receiver.New(receiver.Config{
		Identity: id,
		Alias:    "B",
		SaveDir:  dir,
		Port:     53317,
		UseTLS:   false,
	})
	if err != nil {
		t.Fatalf("receiver.New: %v", err)
	}
	go r.Start(addr)
	time.Sleep(100 * time.Millisecond)
	return r, dir
}

func testLocal() protocol.DeviceInfo {
	fp, _ := protocol.NewFingerprint("a1b2c3d4e5f60718293a4b5c6d7e8f901122334455667788990aabbccddeeff0")
	return protocol.NewDeviceInfo("A", fp, 53318, protocol.ProtocolHTTP)
}

func TestSendTextCompletesTransfer(t *testing.T) {
	addr := "127.0.0.1:18371"
	r, saveDir := startTestReceiver(t, addr)
	defer r.Shutdown(context.Background())

	s := New(testLocal())
	statusCh, err := s.Send(context.Background(), Target{Addr: addr, Protocol: protocol.ProtocolHTTP}, []Item{
		TextItem("hello", "", ""),
	}, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	var final transfer.TransferStatus
	for st := range statusCh {
		final = st
	}
	if final.Kind != transfer.Completed {
		t.Fatalf("expected Completed, got %+v", final)
	}
	if final.Completed != 1 || final.TotalFiles != 1 {
		t.Fatalf("unexpected completion counts: %+v", final)
	}

	data, err := os.ReadFile(filepath.Join(saveDir, "clipboard.txt"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected received content: %q", data)
	}
}

func TestSendFileFromDisk(t *testing.T) {
	addr := "127.0.0.1:18372"
	r, saveDir := startTestReceiver(t, addr)
	defer r.Shutdown(context.Background())

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "note.txt")
	if err := os.WriteFile(srcPath, []byte("a short note"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	s := New(testLocal())
	statusCh, err := s.Send(context.Background(), Target{Addr: addr, Protocol: protocol.ProtocolHTTP}, []Item{
		FileItem(srcPath),
	}, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	var final transfer.TransferStatus
	for st := range statusCh {
		final = st
	}
	if final.Kind != transfer.Completed {
		t.Fatalf("expected Completed, got %+v", final)
	}

	data, err := os.ReadFile(filepath.Join(saveDir, "note.txt"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if string(data) != "a short note" {
		t.Fatalf("unexpected received content: %q", data)
	}
}
