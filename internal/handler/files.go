package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matiku/lms/internal/filestore"
	"github.com/matiku/lms/internal/model"
)

// fileListLimit caps the teacher file listing.
const fileListLimit = 100

type fileResponse struct {
	filestore.Object
	URL string `json:"url"`
}

// filePrefix is the storage folder of the current teacher's own files.
func filePrefix(r *http.Request) string {
	return "files/" + strconv.FormatInt(model.UserFromContext(r.Context()).ID, 10)
}

func (h *Handler) apiListFiles(w http.ResponseWriter, r *http.Request) {
	prefix := filePrefix(r)
	objects, err := h.files.List(r.Context(), prefix)
	if err != nil {
		internalError(w, "failed to list files", err, "prefix", prefix)
		return
	}
	objects = filestore.Newest(objects, fileListLimit)
	out := make([]fileResponse, 0, len(objects))
	for _, o := range objects {
		out = append(out, fileResponse{Object: o, URL: h.files.URL(o.Key)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) apiUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
	if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	key, name, err := h.saveUpload(r, "file", filePrefix(r))
	if err != nil {
		internalError(w, "failed to store file", err)
		return
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	var size int64
	if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
		size = fh[0].Size
	}
	writeJSON(w, http.StatusCreated, fileResponse{
		Object: filestore.Object{Key: key, Name: name, Size: size, Modified: time.Now()},
		URL:    h.files.URL(key),
	})
}

// apiDeleteFile removes one of the teacher's own files. Keys outside the
// teacher's folder are reported as missing.
func (h *Handler) apiDeleteFile(w http.ResponseWriter, r *http.Request) {
	key, err := filestore.CleanKey(chi.URLParam(r, "*"))
	if err != nil || !strings.HasPrefix(key, filePrefix(r)+"/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.files.Delete(r.Context(), key); err != nil {
		internalError(w, "failed to delete file", err, "key", key)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
