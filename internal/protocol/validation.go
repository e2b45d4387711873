package protocol

import (
	"strings"

	"github.com/localshare-go/localshare/internal/errs"
)

// ValidateVersion requires an exact match against ProtocolVersion: a version
// that differs only in its minor part ("2.0", "2.2") is rejected too, unlike
// the looser major-version check some implementations use.
func ValidateVersion(version string) error {
	if version != ProtocolVersion {
		return &errs.VersionMismatchError{Expected: ProtocolVersion, Actual: version}
	}
	return nil
}

func validDeviceType(t DeviceType) bool {
	switch t {
	case DeviceMobile, DeviceDesktop, DeviceWeb, DeviceHeadless, DeviceServer:
		return true
	}
	return false
}

func validProtocol(p Protocol) bool {
	switch p {
	case ProtocolHTTP, ProtocolHTTPS:
		return true
	}
	return false
}

// ValidateDeviceInfo enforces the invariants spec'd for a DeviceInfo: a
// non-empty alias, a non-zero port, a recognised protocol and device type,
// and a well-shaped fingerprint.
func ValidateDeviceInfo(d DeviceInfo) error {
	if err := ValidateVersion(d.Version); err != nil {
		return err
	}
	if d.Alias == "" {
		return errs.ErrInvalidRequest
	}
	if d.Port == 0 {
		return errs.ErrInvalidRequest
	}
	if !validProtocol(d.Protocol) {
		return errs.ErrInvalidRequest
	}
	if !validDeviceType(d.DeviceType) {
		return errs.ErrInvalidRequest
	}
	if _, err := NewFingerprint(string(d.Fingerprint)); err != nil {
		return err
	}
	return nil
}

// ValidateFileMetadata enforces a non-empty id and fileName with no path
// separators. Zero-size files are explicitly allowed — they succeed and
// produce a zero-byte artefact.
func ValidateFileMetadata(f FileMetadata) error {
	if f.Id == "" {
		return errs.ErrInvalidRequest
	}
	if f.FileName == "" {
		return errs.ErrInvalidRequest
	}
	if strings.ContainsAny(f.FileName, "/\\") {
		return errs.ErrInvalidRequest
	}
	return nil
}

// ValidateFileMetas validates every entry of a FileId->FileMetadata map and
// that each entry's key matches its own Id field.
func ValidateFileMetas(files FileMetas) error {
	for id, meta := range files {
		if meta.Id != id {
			return errs.ErrInvalidRequest
		}
		if err := ValidateFileMetadata(meta); err != nil {
			return err
		}
	}
	return nil
}
