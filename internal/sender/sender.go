// Package sender implements the client that drives a receiving peer
// through register -> prepare-upload -> upload(*) -> cancel with
// streaming request bodies and exponential-backoff retries.
package sender

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/localshare-go/localshare/internal/errs"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/transfer"
)

const (
	registerBaseBackoff = 500 * time.Millisecond
	registerBackoffCap  = 8 * time.Second
	registerMaxAttempts = 5
	uploadMaxAttempts   = 3
	chunkSize           = 8 * 1024
	requestTimeout      = 30 * time.Second
)

// Item is one thing to send: either a file on disk or literal text.
type Item struct {
	isText   bool
	path     string
	content  []byte
	fileName string
	mime     string
}

// FileItem offers the file at path.
func FileItem(path string) Item {
	return Item{path: path}
}

// TextItem offers literal text content as a synthetic file. fileName and
// mimeType default to "clipboard.txt" and "text/plain" if empty.
func TextItem(content, fileName, mimeType string) Item {
	if fileName == "" {
		fileName = "clipboard.txt"
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return Item{isText: true, content: []byte(content), fileName: fileName, mime: mimeType}
}

type preparedFile struct {
	id   protocol.FileId
	meta protocol.FileMetadata
	item Item
}

// Target is where to send: the peer's resolved transport address and
// identity.
type Target struct {
	Addr     string // host:port
	Protocol protocol.Protocol
}

// Options customises a Send call.
type Options struct {
	PIN    string // appended as a query param on prepare-upload; the receiver doesn't check it
	Logger *slog.Logger
}

// Sender drives a single peer through the upload protocol using the
// caller's local identity for its advertised DeviceInfo.
type Sender struct {
	local  protocol.DeviceInfo
	logger *slog.Logger
}

// New constructs a Sender advertising local as its own identity.
func New(local protocol.DeviceInfo) *Sender {
	return &Sender{local: local, logger: slog.Default()}
}

// Send drives target through the full protocol sequence for items,
// publishing TransferStatus updates on the returned channel as they occur.
// The channel is closed once the machine reaches Completed or Cancelled.
func (s *Sender) Send(ctx context.Context, target Target, items []Item, opts Options) (<-chan transfer.TransferStatus, error) {
	logger := opts.Logger
	if logger == nil {
		logger = s.logger
	}

	prepared, err := prepareFiles(items)
	if err != nil {
		return nil, err
	}

	statusCh := make(chan transfer.TransferStatus, 16)
	go s.run(ctx, target, prepared, opts.PIN, logger, statusCh)
	return statusCh, nil
}

func prepareFiles(items []Item) ([]preparedFile, error) {
	out := make([]preparedFile, 0, len(items))
	for _, it := range items {
		id := protocol.NewFileId()
		var meta protocol.FileMetadata
		if it.isText {
			meta = protocol.FileMetadata{
				Id:       id,
				FileName: it.fileName,
				Size:     uint64(len(it.content)),
				FileType: it.mime,
			}
		} else {
			info, err := os.Stat(it.path)
			if err != nil {
				return nil, fmt.Errorf("%w: stat %s: %v", errs.ErrInvalidRequest, it.path, err)
			}
			fileType := mime.TypeByExtension(filepath.Ext(it.path))
			if fileType == "" {
				fileType = "application/octet-stream"
			}
			sum, err := fileSHA256(it.path)
			if err != nil {
				return nil, fmt.Errorf("%w: checksum %s: %v", errs.ErrInvalidRequest, it.path, err)
			}
			meta = protocol.FileMetadata{
				Id:       id,
				FileName: filepath.Base(it.path),
				Size:     uint64(info.Size()),
				FileType: fileType,
				SHA256:   sum,
			}
		}
		out = append(out, preparedFile{id: id, meta: meta, item: it})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

func (s *Sender) run(ctx context.Context, target Target, files []preparedFile, pin string, logger *slog.Logger, out chan<- transfer.TransferStatus) {
	defer close(out)
	machine := transfer.NewMachine()

	baseURL := fmt.Sprintf("%s://%s/api/localsend/v2", target.Protocol, target.Addr)
	sessionId := protocol.NewSessionId()
	fileMap := protocol.FileMetas{}
	for _, f := range files {
		fileMap[f.id] = f.meta
	}

	if err := s.register(ctx, baseURL, sessionId, fileMap); err != nil {
		logger.Error("register failed", "error", err)
		machine.Cancel(err.Error())
		out <- machine.State()
		return
	}
	machine.BeginRegister(len(files))
	out <- machine.State()

	tokens, err := s.prepareUpload(ctx, baseURL, sessionId, fileMap, pin)
	if err != nil {
		logger.Error("prepare-upload failed", "error", err)
		machine.Cancel(err.Error())
		out <- machine.State()
		s.bestEffortCancel(baseURL, sessionId)
		return
	}
	machine.BeginTransfer()
	out <- machine.State()
	machine.MustTransferring()

	for _, f := range files {
		select {
		case <-ctx.Done():
			machine.Cancel("cancelled by caller")
			out <- machine.State()
			s.bestEffortCancel(baseURL, sessionId)
			return
		default:
		}

		token, ok := tokens[f.id]
		if !ok {
			machine.Cancel("no token issued for file")
			out <- machine.State()
			s.bestEffortCancel(baseURL, sessionId)
			return
		}
		if err := s.uploadFileWithRetry(ctx, baseURL, sessionId, f, token); err != nil {
			logger.Error("upload failed", "fileId", f.id, "error", err)
			machine.Cancel(err.Error())
			out <- machine.State()
			s.bestEffortCancel(baseURL, sessionId)
			return
		}
		machine.AdvanceFile()
		out <- machine.State()
	}

	machine.Finish()
	out <- machine.State()
	s.bestEffortCancel(baseURL, sessionId)
}

func (s *Sender) register(ctx context.Context, baseURL string, sessionId protocol.SessionId, files protocol.FileMetas) error {
	req := protocol.RegisterRequest{DeviceInfo: s.local, SessionId: sessionId, Files: files}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	backoff := registerBaseBackoff
	for attempt := 0; attempt < registerMaxAttempts; attempt++ {
		status, _, err := s.postJSON(ctx, baseURL+"/register", body)
		if err == nil && status == fiber.StatusOK {
			return nil
		}
		if err == nil && status != fiber.StatusConflict {
			return errs.ParseError(status)
		}
		if attempt == registerMaxAttempts-1 {
			return errs.ErrSessionBusy
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > registerBackoffCap {
			backoff = registerBackoffCap
		}
	}
	return errs.ErrSessionBusy
}

func (s *Sender) prepareUpload(ctx context.Context, baseURL string, sessionId protocol.SessionId, files protocol.FileMetas, pin string) (protocol.FileTokens, error) {
	req := protocol.PrepareUploadRequest{SessionId: sessionId, Files: files}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	endpoint := baseURL + "/prepare-upload"
	if pin != "" {
		endpoint += "?pin=" + url.QueryEscape(pin)
	}
	status, respBody, err := s.postJSON(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	if status != fiber.StatusOK {
		return nil, errs.ParseError(status)
	}
	var resp protocol.PrepareUploadResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode prepare-upload response: %v", errs.ErrInvalidRequest, err)
	}
	return resp.Files, nil
}

func (s *Sender) uploadFileWithRetry(ctx context.Context, baseURL string, sessionId protocol.SessionId, f preparedFile, token protocol.Token) error {
	backoff := registerBaseBackoff
	var lastErr error
	for attempt := 0; attempt < uploadMaxAttempts; attempt++ {
		status, err := s.uploadOnce(ctx, baseURL, sessionId, f, token)
		if err == nil && status == fiber.StatusOK {
			return nil
		}
		if err == nil {
			lastErr = errs.ParseError(status)
			if status != fiber.StatusRequestTimeout && status < 500 {
				return lastErr
			}
		} else {
			lastErr = err
		}
		if attempt == uploadMaxAttempts-1 {
			return lastErr
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return lastErr
}

func (s *Sender) uploadOnce(ctx context.Context, baseURL string, sessionId protocol.SessionId, f preparedFile, token protocol.Token) (int, error) {
	reader, size, err := s.openBody(f)
	if err != nil {
		return 0, err
	}
	if rc, ok := reader.(io.Closer); ok {
		defer rc.Close()
	}

	url := fmt.Sprintf("%s/upload?sessionId=%s&fileId=%s&token=%s", baseURL, sessionId, f.id, token)

	agent := fiber.AcquireAgent()
	defer fiber.ReleaseAgent(agent)
	req := agent.Request()
	req.Header.SetMethod(fiber.MethodPost)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/octet-stream")

	if err := agent.Parse(); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrNetwork, err)
	}
	agent.InsecureSkipVerify()
	agent.Timeout(requestTimeout)
	agent.BodyStream(bufferedReader{r: reader, chunk: chunkSize}, int(size))
	code, _, errsOut := agent.Bytes()
	if len(errsOut) > 0 {
		return 0, fmt.Errorf("%w: %v", errs.ErrNetwork, errsOut[0])
	}
	return code, nil
}

// bufferedReader forces reads through a bounded chunk size so a single Read
// never pulls more than chunk bytes into memory at once.
type bufferedReader struct {
	r     io.Reader
	chunk int
}

func (b bufferedReader) Read(p []byte) (int, error) {
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}
	return b.r.Read(p)
}

func (s *Sender) openBody(f preparedFile) (io.Reader, int64, error) {
	if f.item.isText {
		return bytes.NewReader(f.item.content), int64(len(f.item.content)), nil
	}
	file, err := os.Open(f.item.path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %v", errs.ErrInvalidRequest, f.item.path, err)
	}
	return file, int64(f.meta.Size), nil
}

func (s *Sender) bestEffortCancel(baseURL string, sessionId protocol.SessionId) {
	body, err := json.Marshal(protocol.CancelRequest{SessionId: sessionId})
	if err != nil {
		return
	}
	// Fire-and-forget: tolerate any response, including none.
	s.postJSON(context.Background(), baseURL+"/cancel", body)
}

func (s *Sender) postJSON(ctx context.Context, url string, body []byte) (int, []byte, error) {
	agent := fiber.AcquireAgent()
	defer fiber.ReleaseAgent(agent)
	req := agent.Request()
	req.Header.SetMethod(fiber.MethodPost)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := agent.Parse(); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errs.ErrNetwork, err)
	}
	agent.InsecureSkipVerify()
	agent.Timeout(requestTimeout)
	code, respBody, errsOut := agent.Bytes()
	if len(errsOut) > 0 {
		return 0, nil, fmt.Errorf("%w: %v", errs.ErrNetwork, errsOut[0])
	}
	return code, respBody, nil
}

// fileSHA256 computes the hex SHA-256 digest of the file at path; prepareFiles
// calls it for every file item to advertise the checksum in its FileMetadata.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
