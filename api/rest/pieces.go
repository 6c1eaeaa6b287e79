package rest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/capture"
	mw "github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/repository"
	"go.uber.org/zap"
)

// maxPieceSize bounds one uploaded attachment.
const maxPieceSize = 64 << 20

// PieceHandler handles evidence attachment endpoints. Files are stored
// under dir with a random name; the row keeps the original name.
type PieceHandler struct {
	store  *repository.Store
	dir    string
	logger *zap.Logger
}

// NewPieceHandler creates a new PieceHandler.
func NewPieceHandler(store *repository.Store, dir string, logger *zap.Logger) *PieceHandler {
	return &PieceHandler{store: store, dir: dir, logger: logger}
}

// List handles GET /api/cases/:id/pieces.
func (h *PieceHandler) List(c *gin.Context) {
	caseID, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceCase, caseID)
	out, err := h.store.Pieces.ListByCase(c.Request.Context(), caseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pieces": out})
}

// Upload handles POST /api/cases/:id/pieces (multipart, field "file").
func (h *PieceHandler) Upload(c *gin.Context) {
	caseID, ok := paramID(c, "id")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPieceSize)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	src, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer src.Close()

	path, sum, size, err := h.save(src)
	if err != nil {
		h.logger.Error("piece save failed", zap.Error(err))
		respondError(c, err)
		return
	}
	uploader := mw.GetUserID(c)
	p := &model.Piece{
		CaseID:      caseID,
		FileName:    filepath.Base(fh.Filename),
		ContentType: fh.Header.Get("Content-Type"),
		Size:        size,
		SHA256:      sum,
		StoragePath: path,
		UploadedBy:  &uploader,
	}
	if err := h.store.Pieces.Create(c.Request.Context(), p); err != nil {
		_ = os.Remove(path)
		respondError(c, err)
		return
	}
	capture.SetResource(c, audit.ResourcePiece, p.ID)
	c.JSON(http.StatusCreated, p)
}

func (h *PieceHandler) save(src io.Reader) (string, string, int64, error) {
	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		return "", "", 0, fmt.Errorf("create piece dir: %w", err)
	}
	path := filepath.Join(h.dir, uuid.NewString())
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", "", 0, fmt.Errorf("create piece file: %w", err)
	}
	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", "", 0, fmt.Errorf("write piece file: %w", err)
	}
	return path, hex.EncodeToString(hash.Sum(nil)), n, nil
}

// Download handles GET /api/pieces/:id/download.
func (h *PieceHandler) Download(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourcePiece, id)
	p, err := h.store.Pieces.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := os.Stat(p.StoragePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = repository.ErrNotFound
		}
		respondError(c, err)
		return
	}
	c.FileAttachment(p.StoragePath, p.FileName)
}

// Delete handles DELETE /api/pieces/:id.
func (h *PieceHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourcePiece, id)
	gone, err := h.store.Pieces.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	removeFiles([]model.Piece{*gone})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func removeFiles(pieces []model.Piece) {
	for _, p := range pieces {
		if p.StoragePath != "" {
			_ = os.Remove(p.StoragePath)
		}
	}
}
