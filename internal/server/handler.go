package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/cileserver/internal/backend"
	"github.com/danmuck/cileserver/internal/protocol/frame"
	"github.com/danmuck/cileserver/internal/protocol/listing"
	"github.com/danmuck/cileserver/internal/protocol/session"
)

const (
	msgUploaded = "File uploaded successfully"
	msgDeleted  = "Deleted successfully"
	msgCreated  = "Directory created successfully"
)

// Handler maps one decoded request onto exactly one backend call.
type Handler struct {
	backend  backend.Backend
	capacity int
}

// NewHandler answers requests for a session with the given buffer capacity.
// Response payloads never exceed capacity.
func NewHandler(b backend.Backend, capacity int) *Handler {
	return &Handler{backend: b, capacity: capacity}
}

// Handle returns the response status and payload for req.
func (h *Handler) Handle(req session.Request) (frame.Status, []byte) {
	switch req.Command {
	case frame.CmdList:
		return h.list(req.Path)
	case frame.CmdGet:
		return h.get(req.Path)
	case frame.CmdPut:
		return h.put(req.Path, req.Payload)
	case frame.CmdDelete:
		return h.confirm(h.backend.Delete(req.Path), msgDeleted)
	case frame.CmdMkdir:
		return h.confirm(h.backend.Mkdir(req.Path), msgCreated)
	default:
		return frame.StatusBadRequest, h.message(fmt.Sprintf("unknown command %d", uint8(req.Command)))
	}
}

func (h *Handler) list(path string) (frame.Status, []byte) {
	entries, err := h.backend.List(path)
	if err != nil {
		return h.failure(err)
	}
	if max := listing.MaxEntries(h.capacity); len(entries) > max {
		return frame.StatusTooLarge, h.message(fmt.Sprintf(
			"directory %s has %d entries, at most %d fit one response", path, len(entries), max))
	}
	payload, err := listing.Encode(entries)
	if err != nil {
		return h.failure(err)
	}
	return frame.StatusOK, payload
}

func (h *Handler) get(path string) (frame.Status, []byte) {
	data, err := h.backend.Read(path, int64(h.capacity))
	if errors.Is(err, backend.ErrTooLarge) {
		return frame.StatusTooLarge, h.message(err.Error())
	}
	if err != nil {
		return h.failure(err)
	}
	return frame.StatusOK, data
}

func (h *Handler) put(path string, data []byte) (frame.Status, []byte) {
	if strings.HasSuffix(path, "/") {
		return frame.StatusBadRequest, h.message("cannot write to a directory path: " + path)
	}
	return h.confirm(h.backend.Write(path, data), msgUploaded)
}

func (h *Handler) confirm(err error, msg string) (frame.Status, []byte) {
	if err != nil {
		return h.failure(err)
	}
	return frame.StatusOK, []byte(msg)
}

func (h *Handler) failure(err error) (frame.Status, []byte) {
	return frame.StatusError, h.message(err.Error())
}

// message bounds a diagnostic to the buffer so the response always fits. The
// cut backs up to a rune boundary.
func (h *Handler) message(msg string) []byte {
	if len(msg) > h.capacity {
		cut := h.capacity
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return []byte(msg)
}
