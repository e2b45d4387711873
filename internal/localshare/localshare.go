// Package localshare is the core programmatic façade: discover, start a
// receiver, and send — the three operations a CLI or UI shell drives.
// Nothing under internal/ depends on cmd/; this package is the seam
// between them.
package localshare

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localshare-go/localshare/internal/discovery"
	"github.com/localshare-go/localshare/internal/errs"
	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/receiver"
	"github.com/localshare-go/localshare/internal/sender"
	"github.com/localshare-go/localshare/internal/session"
	"github.com/localshare-go/localshare/internal/transfer"
)

// DiscoveryConfig configures a standalone discovery pass.
type DiscoveryConfig struct {
	Alias    string
	Identity *identity.Identity
	Port     protocol.Port
	Protocol protocol.Protocol
}

// Discover announces presence and returns every peer observed within
// timeout.
func Discover(ctx context.Context, cfg DiscoveryConfig, timeout time.Duration) ([]protocol.DeviceInfo, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("%w: discovery requires an Identity", errs.ErrTlsInit)
	}
	local := protocol.NewDeviceInfo(cfg.Alias, cfg.Identity.Fingerprint, cfg.Port, cfg.Protocol)
	agent := discovery.New(local)
	if err := agent.Start(); err != nil {
		return nil, err
	}
	defer agent.Stop()

	peers := agent.Discover(ctx, timeout)
	out := make([]protocol.DeviceInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Info)
	}
	return out, nil
}

// ReceiverConfig configures StartReceiver.
type ReceiverConfig struct {
	Alias    string
	Identity *identity.Identity
	SaveDir  string
	Port     protocol.Port
	UseTLS   bool
	Logger   *slog.Logger
	Advertise bool // if true, also runs a discovery Agent announcing this receiver
}

// ReceiverHandle is the caller-facing handle to a running receiver: its
// own advertised identity, an event stream, and a Close method.
type ReceiverHandle struct {
	Events <-chan session.ReceiverEvent

	recv     *receiver.Receiver
	disc     *discovery.Agent
	addr     string
	serveErr chan error
}

// Local returns the receiver's advertised DeviceInfo.
func (h *ReceiverHandle) Local() protocol.DeviceInfo { return h.recv.Local() }

// Close stops the HTTP listener, the discovery agent if one was started,
// and the idle-session reaper.
func (h *ReceiverHandle) Close(ctx context.Context) error {
	if h.disc != nil {
		h.disc.Stop()
	}
	return h.recv.Shutdown(ctx)
}

// ServeErrors reports fatal listener errors, if any, once Start's
// background goroutine exits.
func (h *ReceiverHandle) ServeErrors() <-chan error { return h.serveErr }

// StartReceiver constructs and starts an HTTP(S) receiver, optionally
// joined by a discovery agent advertising it on the LAN.
func StartReceiver(cfg ReceiverConfig) (*ReceiverHandle, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("%w: receiver requires an Identity", errs.ErrTlsInit)
	}

	events := make(chan session.ReceiverEvent, 32)
	recv, err := receiver.New(receiver.Config{
		Identity: cfg.Identity,
		Alias:    cfg.Alias,
		SaveDir:  cfg.SaveDir,
		Port:     cfg.Port,
		UseTLS:   cfg.UseTLS,
		Events:   events,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	serveErr := make(chan error, 1)
	go func() {
		if err := recv.Start(addr); err != nil {
			serveErr <- err
		}
		close(serveErr)
	}()

	handle := &ReceiverHandle{Events: events, recv: recv, addr: addr, serveErr: serveErr}

	if cfg.Advertise {
		disc := discovery.New(recv.Local())
		if err := disc.Start(); err != nil {
			recv.Shutdown(context.Background())
			return nil, err
		}
		handle.disc = disc
	}

	return handle, nil
}

// SenderOptions configures Send.
type SenderOptions struct {
	Identity *identity.Identity
	Alias    string
	Port     protocol.Port // advertised in the sender's own DeviceInfo; defaults to protocol.DefaultPort
	PIN      string
	Logger   *slog.Logger
}

// Send resolves target via a discovery agent and drives it through the
// full upload protocol for items, returning the status stream.
func Send(ctx context.Context, disc *discovery.Agent, target string, items []sender.Item, opts SenderOptions) (<-chan transfer.TransferStatus, error) {
	if opts.Identity == nil {
		return nil, fmt.Errorf("%w: send requires an Identity", errs.ErrTlsInit)
	}

	peer, err := discovery.Resolve(disc.Directory(), target)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if port == 0 {
		port = protocol.DefaultPort
	}
	local := protocol.NewDeviceInfo(opts.Alias, opts.Identity.Fingerprint, port, peer.Info.Protocol)
	s := sender.New(local)
	addr := fmt.Sprintf("%s:%d", peer.IP, peer.Info.Port)
	return s.Send(ctx, sender.Target{Addr: addr, Protocol: peer.Info.Protocol}, items, sender.Options{
		PIN:    opts.PIN,
		Logger: opts.Logger,
	})
}
