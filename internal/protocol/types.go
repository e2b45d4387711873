// Package protocol holds the wire-level types for the LocalSend v2 contract:
// identifier newtypes, DeviceInfo/FileMetadata DTOs, and the request/response
// shapes each endpoint in the HTTP API exchanges. Validation lives alongside
// the types it validates.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/localshare-go/localshare/internal/errs"
)

// ProtocolVersion is the only version string this implementation accepts.
const ProtocolVersion = "2.1"

// SessionId identifies a single receiver-side ActiveSession.
type SessionId string

// FileId identifies one file within a session's file map.
type FileId string

// Token is an opaque per-file upload authorisation string.
type Token string

// Fingerprint is the lowercase hex SHA-256 of a device certificate's SPKI.
type Fingerprint string

// Port is a TCP port number; zero is never valid for a DeviceInfo.
type Port uint16

// DefaultPort is the standard LocalSend listening port, also used as the
// advertised port for a sender that never itself accepts inbound
// connections but still needs a non-zero Port to pass ValidateDeviceInfo.
const DefaultPort Port = 53317

// Protocol is the transport scheme a peer's HTTP API is reachable over.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// DeviceType classifies the kind of device advertising presence.
type DeviceType string

const (
	DeviceMobile   DeviceType = "mobile"
	DeviceDesktop  DeviceType = "desktop"
	DeviceWeb      DeviceType = "web"
	DeviceHeadless DeviceType = "headless"
	DeviceServer   DeviceType = "server"
)

var fingerprintShape = regexp.MustCompile(`^[0-9a-f]{64}$`)

// NewFingerprint validates that raw has the expected 64-hex-char shape.
func NewFingerprint(raw string) (Fingerprint, error) {
	if !fingerprintShape.MatchString(raw) {
		return "", fmt.Errorf("%w: fingerprint must be 64 lowercase hex chars", errs.ErrInvalidRequest)
	}
	return Fingerprint(raw), nil
}

func randHex(nbytes int) string {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		panic("protocol: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// NewSessionId mints a fresh hex(random128) session identifier.
func NewSessionId() SessionId { return SessionId(randHex(16)) }

// NewFileId mints a fresh hex(random64) file identifier.
func NewFileId() FileId { return FileId(randHex(8)) }

// NewToken mints a fresh hex(random128) per-file authorisation token.
func NewToken() Token { return Token(randHex(16)) }

// DeviceInfo is a peer's advertised identity: alias is display-only, the
// fingerprint is the actual identity.
type DeviceInfo struct {
	Alias       string      `json:"alias"`
	Version     string      `json:"version"`
	DeviceModel string      `json:"deviceModel,omitempty"`
	DeviceType  DeviceType  `json:"deviceType"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Port        Port        `json:"port"`
	Protocol    Protocol    `json:"protocol"`
	Download    bool        `json:"download"`

	// IP is never part of the wire payload; it's filled in locally from the
	// UDP/TCP source address when a DeviceInfo is observed, not advertised.
	IP string `json:"-"`
}

// DeviceInfoOption customises a DeviceInfo built by NewDeviceInfo.
type DeviceInfoOption func(*DeviceInfo)

// WithDeviceModel sets the advertised device model string.
func WithDeviceModel(model string) DeviceInfoOption {
	return func(d *DeviceInfo) { d.DeviceModel = model }
}

// WithDeviceType overrides the default "headless" device type.
func WithDeviceType(t DeviceType) DeviceInfoOption {
	return func(d *DeviceInfo) { d.DeviceType = t }
}

// WithDownload marks the device as exposing the reverse-download API.
// The core never implements that API; this only affects the advertised flag.
func WithDownload(v bool) DeviceInfoOption {
	return func(d *DeviceInfo) { d.Download = v }
}

// NewDeviceInfo builds a DeviceInfo with sane defaults, customisable via
// functional options.
func NewDeviceInfo(alias string, fingerprint Fingerprint, port Port, proto Protocol, opts ...DeviceInfoOption) DeviceInfo {
	d := DeviceInfo{
		Alias:       alias,
		Version:     ProtocolVersion,
		DeviceModel: "localshare-go",
		DeviceType:  DeviceHeadless,
		Fingerprint: fingerprint,
		Port:        port,
		Protocol:    proto,
		Download:    false,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// FileMetadataDetails carries optional timestamps, mirroring the Rust
// original's FileMetadataDetails.
type FileMetadataDetails struct {
	Modified string `json:"modified,omitempty"`
	Accessed string `json:"accessed,omitempty"`
}

// FileMetadata describes one file offered or requested in a transfer.
type FileMetadata struct {
	Id       FileId               `json:"id"`
	FileName string               `json:"fileName"`
	Size     uint64               `json:"size"`
	FileType string               `json:"fileType"`
	SHA256   string               `json:"sha256,omitempty"`
	Preview  string               `json:"preview,omitempty"`
	Metadata *FileMetadataDetails `json:"metadata,omitempty"`
}

// FileMetas is the FileId->FileMetadata map used by register and
// prepare-upload requests.
type FileMetas map[FileId]FileMetadata

// FileTokens is the FileId->Token map prepare-upload responds with.
type FileTokens map[FileId]Token

// Announcement is the UDP multicast discovery packet: a DeviceInfo plus an
// announce flag. Go's JSON encoding already flattens an embedded struct's
// fields alongside its own, so no custom (Un)MarshalJSON is needed to get
// the wire's flattened shape.
type Announcement struct {
	DeviceInfo
	Announce bool `json:"announce"`
}

// RegisterRequest is the body of POST /register: the sender's identity plus
// a proposed session id and the files it wants to offer.
type RegisterRequest struct {
	DeviceInfo
	SessionId SessionId `json:"sessionId"`
	Files     FileMetas `json:"files"`
}

// RegisterResponse is the 200 body of /register: the session id echoed back
// alongside the receiver's own DeviceInfo.
type RegisterResponse struct {
	SessionId SessionId `json:"sessionId"`
	DeviceInfo
}

// PrepareUploadRequest is the body of POST /prepare-upload.
type PrepareUploadRequest struct {
	SessionId SessionId `json:"sessionId"`
	Files     FileMetas `json:"files"`
}

// PrepareUploadResponse is the 200 body of /prepare-upload.
type PrepareUploadResponse struct {
	SessionId SessionId  `json:"sessionId"`
	Files     FileTokens `json:"files"`
}

// CancelRequest is the body of POST /cancel.
type CancelRequest struct {
	SessionId SessionId `json:"sessionId"`
}
