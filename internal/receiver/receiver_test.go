package receiver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/valyala/fasthttp"
)

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	dir := t.TempDir()
	r, err := New(Config{
		Identity: id,
		Alias:    "B",
		SaveDir:  dir,
		Port:     53317,
		UseTLS:   false,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func doRequest(t *testing.T, r *Receiver, method, path string, body []byte) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func TestInfoHandlerReturnsDeviceInfo(t *testing.T) {
	r := newTestReceiver(t)
	code, body := doRequest(t, r, "GET", basePath+"/info", nil)
	if code != 200 {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var info protocol.DeviceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Alias != "B" {
		t.Fatalf("unexpected alias: %s", info.Alias)
	}
}

func TestRegisterThenPrepareThenUpload(t *testing.T) {
	r := newTestReceiver(t)

	fp, _ := protocol.NewFingerprint("a1b2c3d4e5f60718293a4b5c6d7e8f901122334455667788990aabbccddeeff0")
	sessionId := protocol.NewSessionId()
	regReq := protocol.RegisterRequest{
		DeviceInfo: protocol.NewDeviceInfo("A", fp, 53318, protocol.ProtocolHTTP),
		SessionId:  sessionId,
		Files: protocol.FileMetas{
			"f1": {Id: "f1", FileName: "hello.txt", Size: 5, FileType: "text/plain"},
		},
	}
	regBody, _ := json.Marshal(regReq)
	code, body := doRequest(t, r, "POST", basePath+"/register", regBody)
	if code != 200 {
		t.Fatalf("register failed: %d %s", code, body)
	}

	prepReq := protocol.PrepareUploadRequest{SessionId: sessionId, Files: regReq.Files}
	prepBody, _ := json.Marshal(prepReq)
	code, body = doRequest(t, r, "POST", basePath+"/prepare-upload", prepBody)
	if code != 200 {
		t.Fatalf("prepare-upload failed: %d %s", code, body)
	}
	var prepResp protocol.PrepareUploadResponse
	if err := json.Unmarshal(body, &prepResp); err != nil {
		t.Fatalf("decode prepare-upload response: %v", err)
	}
	token, ok := prepResp.Files["f1"]
	if !ok {
		t.Fatalf("expected token for f1, got %+v", prepResp.Files)
	}

	uploadPath := basePath + "/upload?sessionId=" + string(sessionId) + "&fileId=f1&token=" + string(token)
	req := httptest.NewRequest("POST", uploadPath, bytes.NewReader([]byte("hello")))
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := r.app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		out, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload failed: %d %s", resp.StatusCode, out)
	}

	data, err := os.ReadFile(filepath.Join(r.saveDir, "hello.txt"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected uploaded content: %q", data)
	}
}

func TestUploadRejectsBadToken(t *testing.T) {
	r := newTestReceiver(t)
	uploadPath := basePath + "/upload?sessionId=s1&fileId=f1&token=deadbeef"
	req := httptest.NewRequest("POST", uploadPath, bytes.NewReader([]byte("x")))
	resp, err := r.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestCancelAlwaysReturns200(t *testing.T) {
	r := newTestReceiver(t)
	body, _ := json.Marshal(protocol.CancelRequest{SessionId: "nonexistent"})
	code, _ := doRequest(t, r, "POST", basePath+"/cancel", body)
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}
