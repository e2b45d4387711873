// Package receiver implements the HTTP(S) server for the v2 endpoints,
// built on fiber.App/fiber.Ctx. Upload bodies stream through
// storage.WriteSink rather than buffering the whole request with c.Body(),
// so memory use doesn't scale with file size.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/localshare-go/localshare/internal/errs"
	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/session"
	"github.com/localshare-go/localshare/internal/storage"
)

const (
	basePath   = "/api/localsend/v2"
	gcInterval = 5 * time.Second
)

// Config configures a Receiver. No config-file parsing lives in the
// core — callers (the CLI) build this struct themselves from flags.
type Config struct {
	Identity *identity.Identity
	Alias    string
	SaveDir  string
	Port     protocol.Port
	UseTLS   bool
	Events   chan<- session.ReceiverEvent
	Logger   *slog.Logger
}

// Receiver is the HTTP(S) server exposing the v2 endpoints. It owns its
// own Session Manager and storage facade — never package globals.
type Receiver struct {
	app     *fiber.App
	sm      *session.Manager
	store   storage.Storage
	saveDir string
	ident   *identity.Identity
	local   protocol.DeviceInfo
	useTLS  bool
	port    protocol.Port
	logger  *slog.Logger
	stopGC  chan struct{}
}

// New constructs a Receiver from cfg. It does not start listening — call
// Start for that.
func New(cfg Config) (*Receiver, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("%w: receiver requires an Identity", errs.ErrTlsInit)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ds, err := storage.NewDiskStorage(cfg.SaveDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	proto := protocol.ProtocolHTTP
	if cfg.UseTLS {
		proto = protocol.ProtocolHTTPS
	}
	local := protocol.NewDeviceInfo(cfg.Alias, cfg.Identity.Fingerprint, cfg.Port, proto)

	r := &Receiver{
		sm:      session.New(cfg.Events),
		store:   ds,
		saveDir: ds.Dir(),
		ident:   cfg.Identity,
		local:   local,
		useTLS:  cfg.UseTLS,
		port:    cfg.Port,
		logger:  logger,
	}

	r.app = fiber.New(fiber.Config{
		StreamRequestBody:    true,
		DisableStartupMessage: true,
	})
	r.routes()
	return r, nil
}

// Local returns the receiver's own advertised DeviceInfo.
func (r *Receiver) Local() protocol.DeviceInfo { return r.local }

func (r *Receiver) routes() {
	r.app.Get(basePath+"/info", r.infoHandler)
	r.app.Post(basePath+"/register", r.registerHandler)
	r.app.Post(basePath+"/prepare-upload", r.prepareUploadHandler)
	r.app.Post(basePath+"/upload", r.uploadHandler)
	r.app.Post(basePath+"/cancel", r.cancelHandler)
}

// Start begins listening on addr ("host:port"). It blocks until Shutdown
// is called or a fatal listener error occurs.
func (r *Receiver) Start(addr string) error {
	r.stopGC = make(chan struct{})
	go r.gcLoop()

	if r.useTLS {
		return r.app.ListenTLSWithCertificate(addr, r.ident.Certificate)
	}
	return r.app.Listen(addr)
}

// Shutdown stops the listener and the idle-session reaper.
func (r *Receiver) Shutdown(ctx context.Context) error {
	if r.stopGC != nil {
		close(r.stopGC)
	}
	return r.app.ShutdownWithContext(ctx)
}

func (r *Receiver) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sm.Reap()
		case <-r.stopGC:
			return
		}
	}
}

func (r *Receiver) infoHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(r.local)
}

func (r *Receiver) registerHandler(c *fiber.Ctx) error {
	var req protocol.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := protocol.ValidateDeviceInfo(req.DeviceInfo); err != nil {
		return r.writeError(c, err)
	}
	if err := protocol.ValidateFileMetas(req.Files); err != nil {
		return r.writeError(c, err)
	}

	if err := r.sm.BeginSession(req.SessionId, req.DeviceInfo, req.Files); err != nil {
		r.logger.Warn("register rejected", "remote", req.Alias, "error", err)
		return r.writeError(c, err)
	}

	r.logger.Info("session started", "session", req.SessionId, "remote", req.Alias, "files", len(req.Files))
	return c.Status(fiber.StatusOK).JSON(protocol.RegisterResponse{SessionId: req.SessionId, DeviceInfo: r.local})
}

func (r *Receiver) prepareUploadHandler(c *fiber.Ctx) error {
	var req protocol.PrepareUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := protocol.ValidateFileMetas(req.Files); err != nil {
		return r.writeError(c, err)
	}

	tokens, err := r.sm.Authorise(req.SessionId, req.Files)
	if err != nil {
		return r.writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(protocol.PrepareUploadResponse{SessionId: req.SessionId, Files: tokens})
}

func (r *Receiver) uploadHandler(c *fiber.Ctx) error {
	sessionId := protocol.SessionId(c.Query("sessionId"))
	fileId := protocol.FileId(c.Query("fileId"))
	token := protocol.Token(c.Query("token"))
	if sessionId == "" || fileId == "" || token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing query arguments"})
	}

	unlock := r.sm.LockFile(fileId)
	defer unlock()

	if err := r.sm.ConsumeUpload(sessionId, fileId, token); err != nil {
		return r.writeError(c, err)
	}

	snap := r.sm.Snapshot()
	if snap == nil {
		return r.writeError(c, errs.ErrAuthorisation)
	}
	meta, ok := snap.Files[fileId]
	if !ok {
		return r.writeError(c, errs.ErrAuthorisation)
	}

	fileName := storage.SanitiseFileName(r.saveDir, meta.FileName)
	sink, err := r.store.OpenForWrite(fileName)
	if err != nil {
		r.sm.FinishUpload(sessionId, fileId, false, "")
		return r.writeError(c, err)
	}

	bodyStream := c.Context().RequestBodyStream()
	_, copyErr := io.Copy(sink, bodyStream)
	if copyErr != nil {
		sink.Close(false)
		r.sm.FinishUpload(sessionId, fileId, false, "")
		r.logger.Error("upload aborted", "session", sessionId, "fileId", fileId, "error", copyErr)
		return r.writeError(c, fmt.Errorf("%w: %v", errs.ErrStorage, copyErr))
	}
	if err := sink.Close(true); err != nil {
		r.sm.FinishUpload(sessionId, fileId, false, "")
		return r.writeError(c, fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	r.sm.FinishUpload(sessionId, fileId, true, fileName)
	r.logger.Info("file completed", "session", sessionId, "fileId", fileId, "fileName", fileName)
	return c.SendStatus(fiber.StatusOK)
}

func (r *Receiver) cancelHandler(c *fiber.Ctx) error {
	var req protocol.CancelRequest
	if err := c.BodyParser(&req); err == nil {
		r.sm.Cancel(req.SessionId)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (r *Receiver) writeError(c *fiber.Ctx, err error) error {
	status := errs.Status(err)
	var body []byte
	if j, mErr := json.Marshal(fiber.Map{"error": err.Error()}); mErr == nil {
		body = j
	}
	return c.Status(status).Send(body)
}
