package localshare

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/sender"
	"github.com/localshare-go/localshare/internal/session"
	"github.com/localshare-go/localshare/internal/transfer"
)

func TestStartReceiverAndSendEndToEnd(t *testing.T) {
	recvId, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate (receiver): %v", err)
	}
	saveDir := t.TempDir()

	handle, err := StartReceiver(ReceiverConfig{
		Alias:    "B",
		Identity: recvId,
		SaveDir:  saveDir,
		Port:     protocol.Port(18390),
		UseTLS:   false,
	})
	if err != nil {
		t.Fatalf("StartReceiver: %v", err)
	}
	defer handle.Close(context.Background())
	time.Sleep(100 * time.Millisecond)

	senderId, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate (sender): %v", err)
	}
	local := protocol.NewDeviceInfo("A", senderId.Fingerprint, protocol.DefaultPort, protocol.ProtocolHTTP)
	s := sender.New(local)

	statusCh, err := s.Send(context.Background(), sender.Target{
		Addr:     "127.0.0.1:18390",
		Protocol: protocol.ProtocolHTTP,
	}, []sender.Item{sender.TextItem("hello", "", "")}, sender.Options{})
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

	data, err := os.ReadFile(filepath.Join(saveDir, "clipboard.txt"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content: %q", data)
	}

	var sawStarted, sawCompleted, sawEnded bool
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case ev := <-handle.Events:
			switch ev.Kind {
			case session.SessionStarted:
				sawStarted = true
			case session.FileCompleted:
				sawCompleted = true
			case session.SessionEnded:
				sawEnded = true
			}
		case <-timeout:
			break drain
		default:
			if sawStarted && sawCompleted && sawEnded {
				break drain
			}
		}
	}
	if !sawStarted || !sawCompleted || !sawEnded {
		t.Fatalf("missing receiver events: started=%v completed=%v ended=%v", sawStarted, sawCompleted, sawEnded)
	}
}
