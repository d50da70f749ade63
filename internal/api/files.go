package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var (
	storedNameRegex = regexp.MustCompile(`^[a-f0-9-]{36}(\.[a-zA-Z0-9]{1,10})?$`)
	extRegex        = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)
)

// FileMessageResponse is the reply to an upload.
type FileMessageResponse struct {
	Message *types.Message `json:"message"`
}

// uploadFile stores the multipart "file" field and posts it to the group as
// a file message.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if !types.IsValidGroupID(groupID) {
		s.sendError(w, r, errInvalidGroupParam)
		return
	}
	userID := caller(r)
	if err := s.deps.Directory.IsMember(r.Context(), groupID, userID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			err = fmt.Errorf("%w: %w", types.ErrForbidden, err)
		}
		s.sendError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, r, errPayloadTooLarge)
			return
		}
		s.sendError(w, r, fmt.Errorf("%w: invalid multipart body", types.ErrValidation))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, r, errMissingFile)
		return
	}
	defer file.Close()

	originalName := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(originalName))
	if !extRegex.MatchString(ext) {
		ext = ""
	}
	storedName := uuid.New().String() + ext

	size, err := s.storeFile(storedName, file)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}

	msg, err := s.deps.Router.Send(r.Context(), interfaces.SendRequest{
		SenderID: userID,
		RoomKey:  types.GroupRoomKey(groupID),
		Type:     types.MessageTypeFile,
		Content:  r.FormValue("content"),
		File: &types.FileDescriptor{
			URL:      s.config.PublicPrefix + "/" + storedName,
			Name:     originalName,
			Size:     size,
			MimeType: mimeType,
		},
	})
	if err != nil {
		// A timed-out append may still commit, so its file stays servable.
		if !errors.Is(err, types.ErrPersistenceTimeout) {
			_ = os.Remove(filepath.Join(s.config.FilesDir, storedName))
		}
		s.sendError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, FileMessageResponse{Message: msg})
}

func (s *Server) storeFile(name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(s.config.FilesDir, 0o755); err != nil {
		return 0, fmt.Errorf("create files dir: %w", err)
	}
	path := filepath.Join(s.config.FilesDir, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return 0, errPayloadTooLarge
		}
		return 0, fmt.Errorf("write file: %w", err)
	}
	return size, nil
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !storedNameRegex.MatchString(name) {
		s.sendError(w, r, errInvalidFileName)
		return
	}
	path := filepath.Join(s.config.FilesDir, name)
	if _, err := os.Stat(path); err != nil {
		s.sendError(w, r, fmt.Errorf("%w: file %s", types.ErrNotFound, name))
		return
	}
	http.ServeFile(w, r, path)
}
