package protocol

import (
	"encoding/json"
	"testing"

	"github.com/localshare-go/localshare/internal/errs"
)

func validFingerprint() Fingerprint {
	fp, err := NewFingerprint("a1b2c3d4e5f60718293a4b5c6d7e8f901122334455667788990aabbccddeeff0")
	if err != nil {
		panic(err)
	}
	return fp
}

func TestValidateVersionExactMatch(t *testing.T) {
	if err := ValidateVersion("2.1"); err != nil {
		t.Fatalf("expected 2.1 to validate, got %v", err)
	}
	err := ValidateVersion("2.2")
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	var vm *errs.VersionMismatchError
	if !asVersionMismatch(err, &vm) {
		t.Fatalf("expected *VersionMismatchError, got %T", err)
	}
	if vm.Expected != "2.1" || vm.Actual != "2.2" {
		t.Fatalf("unexpected fields: %+v", vm)
	}
}

func asVersionMismatch(err error, target **errs.VersionMismatchError) bool {
	if vm, ok := err.(*errs.VersionMismatchError); ok {
		*target = vm
		return true
	}
	return false
}

func TestValidateDeviceInfoRejectsEmptyAlias(t *testing.T) {
	d := NewDeviceInfo("", validFingerprint(), 53317, ProtocolHTTPS)
	if err := ValidateDeviceInfo(d); err == nil {
		t.Fatal("expected rejection of empty alias")
	}
}

func TestValidateDeviceInfoRejectsZeroPort(t *testing.T) {
	d := NewDeviceInfo("peer", validFingerprint(), 0, ProtocolHTTPS)
	if err := ValidateDeviceInfo(d); err == nil {
		t.Fatal("expected rejection of zero port")
	}
}

func TestValidateDeviceInfoAccepts(t *testing.T) {
	d := NewDeviceInfo("peer", validFingerprint(), 53317, ProtocolHTTPS)
	if err := ValidateDeviceInfo(d); err != nil {
		t.Fatalf("expected valid device info, got %v", err)
	}
}

func TestValidateFileMetadataAllowsZeroSize(t *testing.T) {
	f := FileMetadata{Id: "f1", FileName: "empty.txt", Size: 0, FileType: "text/plain"}
	if err := ValidateFileMetadata(f); err != nil {
		t.Fatalf("zero-size file should be allowed, got %v", err)
	}
}

func TestValidateFileMetadataRejectsPathSeparator(t *testing.T) {
	f := FileMetadata{Id: "f1", FileName: "../escape.txt", Size: 1, FileType: "text/plain"}
	if err := ValidateFileMetadata(f); err == nil {
		t.Fatal("expected rejection of path separator in fileName")
	}
}

func TestRegisterRequestRoundTrip(t *testing.T) {
	req := RegisterRequest{
		DeviceInfo: NewDeviceInfo("A", validFingerprint(), 53317, ProtocolHTTPS),
		SessionId:  NewSessionId(),
		Files: FileMetas{
			"f1": {Id: "f1", FileName: "hello.txt", Size: 5, FileType: "text/plain"},
		},
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got RegisterRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Alias != req.Alias || got.SessionId != req.SessionId {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, req)
	}
	if len(got.Files) != 1 || got.Files["f1"].FileName != "hello.txt" {
		t.Fatalf("files did not round trip: %+v", got.Files)
	}
}
