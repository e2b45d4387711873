// Package discovery implements the multicast presence agent: announcing
// and listening on 224.0.0.167:53317, maintaining a peer directory, and an
// HTTP /info fallback probe. Self-rejection compares fingerprints rather
// than source IPs, since a self-announcement can loop back through an
// address that isn't in any locally cached address list. Multicast
// TTL/loopback are configured via golang.org/x/net/ipv4 since
// net.ListenMulticastUDP alone exposes no socket-option knobs.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/ipv4"

	"github.com/localshare-go/localshare/internal/errs"
	"github.com/localshare-go/localshare/internal/protocol"
)

// MulticastAddr is the LocalSend v2 discovery group and port.
const MulticastAddr = "224.0.0.167:53317"

const (
	multicastTTL      = 4
	announceInterval  = 1 * time.Second
	announcePulses    = 3
	readBufferSize    = 65536
	httpInfoPath      = "/api/localsend/v2/info"
	httpProbeTimeout  = 2 * time.Second
)

// DiscoveredPeer is a peer directory entry: the last DeviceInfo observed
// for a fingerprint, its transport address, and when it was last seen.
type DiscoveredPeer struct {
	Info     protocol.DeviceInfo
	IP       string
	LastSeen time.Time
}

// PeerDirectory maps Fingerprint to the most recently observed
// DiscoveredPeer. Each Agent owns its own directory — never a package
// singleton.
type PeerDirectory struct {
	mu      sync.RWMutex
	peers   map[protocol.Fingerprint]DiscoveredPeer
	freshFor time.Duration
}

// NewPeerDirectory constructs an empty directory whose entries are evicted
// once older than freshFor (zero disables eviction).
func NewPeerDirectory(freshFor time.Duration) *PeerDirectory {
	return &PeerDirectory{peers: make(map[protocol.Fingerprint]DiscoveredPeer), freshFor: freshFor}
}

func (d *PeerDirectory) upsert(info protocol.DeviceInfo, ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[info.Fingerprint] = DiscoveredPeer{Info: info, IP: ip, LastSeen: time.Now()}
}

// Snapshot returns every non-stale peer currently known.
func (d *PeerDirectory) Snapshot() []DiscoveredPeer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DiscoveredPeer, 0, len(d.peers))
	now := time.Now()
	for _, p := range d.peers {
		if d.freshFor > 0 && now.Sub(p.LastSeen) > d.freshFor {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Agent announces presence on the LAN and listens for other peers'
// announcements, feeding a PeerDirectory.
type Agent struct {
	local     protocol.DeviceInfo
	directory *PeerDirectory
	conn      *net.UDPConn
	pconn     *ipv4.PacketConn
	groupAddr *net.UDPAddr

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Agent for local identity, backed by a fresh
// PeerDirectory with a 30s freshness window.
func New(local protocol.DeviceInfo) *Agent {
	return &Agent{local: local, directory: NewPeerDirectory(30 * time.Second)}
}

// Directory exposes the agent's peer directory for UI/diagnostic queries.
func (a *Agent) Directory() *PeerDirectory { return a.directory }

// Start joins the multicast group, begins listening, and fires the
// startup announce pulses.
func (a *Agent) Start() error {
	groupAddr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return fmt.Errorf("%w: resolve multicast addr: %v", errs.ErrNetwork, err)
	}
	a.groupAddr = groupAddr

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: groupAddr.Port})
	if err != nil {
		return fmt.Errorf("%w: listen: %v", errs.ErrNetwork, err)
	}
	a.conn = conn

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(nil, &net.UDPAddr{IP: groupAddr.IP}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: join group: %v", errs.ErrNetwork, err)
	}
	if err := pconn.SetMulticastTTL(multicastTTL); err != nil {
		conn.Close()
		return fmt.Errorf("%w: set ttl: %v", errs.ErrNetwork, err)
	}
	if err := pconn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return fmt.Errorf("%w: set loopback: %v", errs.ErrNetwork, err)
	}
	a.pconn = pconn
	a.stop = make(chan struct{})

	a.wg.Add(1)
	go a.listen()

	go a.pulseAnnounce()

	return nil
}

// Stop leaves the multicast group and releases the socket.
func (a *Agent) Stop() {
	if a.stop != nil {
		close(a.stop)
	}
	if a.conn != nil {
		a.conn.Close()
	}
	a.wg.Wait()
}

func (a *Agent) pulseAnnounce() {
	for i := 0; i < announcePulses; i++ {
		if err := a.Announce(); err != nil {
			return
		}
		select {
		case <-time.After(announceInterval):
		case <-a.stop:
			return
		}
	}
}

// Announce sends a single multicast announcement of the local DeviceInfo.
func (a *Agent) Announce() error {
	ann := protocol.Announcement{DeviceInfo: a.local, Announce: true}
	data, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	_, err = a.conn.WriteToUDP(data, a.groupAddr)
	if err != nil {
		return fmt.Errorf("%w: send announce: %v", errs.ErrNetwork, err)
	}
	return nil
}

func (a *Agent) listen() {
	defer a.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		a.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, src, err := a.conn.ReadFromUDP(buf)
		select {
		case <-a.stop:
			return
		default:
		}
		if err != nil {
			continue
		}
		a.handlePacket(buf[:n], src)
	}
}

func (a *Agent) handlePacket(data []byte, src *net.UDPAddr) {
	var ann protocol.Announcement
	if err := json.Unmarshal(data, &ann); err != nil {
		return
	}
	// Self-rejection is fingerprint-based, not IP-based: IP comparison
	// breaks under NAT loopback and multi-homed hosts.
	if ann.Fingerprint == a.local.Fingerprint {
		return
	}

	info := ann.DeviceInfo
	info.IP = src.IP.String()
	a.directory.upsert(info, src.IP.String())

	if ann.Announce {
		go a.replyUnicast(src)
	}
}

func (a *Agent) replyUnicast(dst *net.UDPAddr) {
	ann := protocol.Announcement{DeviceInfo: a.local, Announce: false}
	data, err := json.Marshal(ann)
	if err != nil {
		return
	}
	a.conn.WriteToUDP(data, dst)
}

// ProbeHTTP fetches DeviceInfo from a peer's /info endpoint over addr
// ("host:port") via the given scheme, merging the result into the
// directory on success.
func (a *Agent) ProbeHTTP(scheme, addr string) error {
	url := fmt.Sprintf("%s://%s%s", scheme, addr, httpInfoPath)
	agent := fiber.AcquireAgent()
	defer fiber.ReleaseAgent(agent)
	req := agent.Request()
	req.Header.SetMethod(fiber.MethodGet)
	req.SetRequestURI(url)

	if err := agent.Parse(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNetwork, err)
	}
	agent.InsecureSkipVerify()
	agent.Timeout(httpProbeTimeout)
	code, body, errs2 := agent.Bytes()
	if len(errs2) > 0 {
		return fmt.Errorf("%w: %v", errs.ErrNetwork, errs2[0])
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("%w: peer /info returned %d", errs.ErrNetwork, code)
	}

	var info protocol.DeviceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("%w: decode /info response: %v", errs.ErrInvalidRequest, err)
	}
	host, _, _ := net.SplitHostPort(addr)
	a.directory.upsert(info, host)
	return nil
}

// Discover returns the directory snapshot after waiting up to timeout,
// having first fired an announce to prompt fresh replies.
func (a *Agent) Discover(ctx context.Context, timeout time.Duration) []DiscoveredPeer {
	a.Announce()
	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return a.directory.Snapshot()
}

// Resolve accepts an alias, a fingerprint, or a literal "ip:port" and
// returns the peer it names. Ties among same-alias matches are broken by
// most-recent LastSeen; more than one distinct match fails with
// PeerAmbiguous.
func Resolve(dir *PeerDirectory, target string) (DiscoveredPeer, error) {
	if host, _, err := net.SplitHostPort(target); err == nil {
		for _, p := range dir.Snapshot() {
			if p.IP == host {
				return p, nil
			}
		}
		return DiscoveredPeer{}, errs.ErrPeerNotFound
	}

	var byFingerprint []DiscoveredPeer
	var byAlias []DiscoveredPeer
	for _, p := range dir.Snapshot() {
		if string(p.Info.Fingerprint) == target {
			byFingerprint = append(byFingerprint, p)
		}
		if p.Info.Alias == target {
			byAlias = append(byAlias, p)
		}
	}
	if len(byFingerprint) == 1 {
		return byFingerprint[0], nil
	}
	if len(byAlias) == 0 {
		return DiscoveredPeer{}, errs.ErrPeerNotFound
	}
	if len(byAlias) > 1 {
		sort.Slice(byAlias, func(i, j int) bool { return byAlias[i].LastSeen.After(byAlias[j].LastSeen) })
		// Multiple distinct fingerprints sharing an alias is genuinely
		// ambiguous; multiple directory entries that happen to be the same
		// fingerprint (shouldn't occur, map is keyed by fingerprint) would
		// not be.
		first := byAlias[0].Info.Fingerprint
		distinct := 1
		for _, p := range byAlias[1:] {
			if p.Info.Fingerprint != first {
				distinct++
			}
		}
		if distinct > 1 {
			return DiscoveredPeer{}, &errs.PeerAmbiguousError{Alias: target, Candidates: distinct}
		}
	}
	return byAlias[0], nil
}
