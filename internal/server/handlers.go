package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gorilla/mux"

	"gihan9a/docproof/internal/annotate"
	"gihan9a/docproof/internal/extract"
	"gihan9a/docproof/internal/metrics"
	"gihan9a/docproof/pkg/proofproto"
)

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// statusFor maps request errors to HTTP status codes
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, extract.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errOutsideRoot):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errEmptySlot), errors.Is(err, errUnknownID):
		return http.StatusNotFound
	case errors.Is(err, errNothingToCompare), errors.Is(err, errNoComparison):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// handleDiff compares the two texts in the request body
func (s *DocProofServer) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req proofproto.DiffRequest
	body := http.MaxBytesReader(w, r.Body, 2*s.config.MaxUploadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), status)
		return
	}
	writeJSON(w, http.StatusOK, s.comparator.Compare(req.TextA, req.TextB))
}

// handleFormats lists the accepted upload extensions
func (s *DocProofServer) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, extract.Supported())
}

// handleLayout returns the geometry overlay boxes are computed with
func (s *DocProofServer) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.comparator.Layout())
}

// readUpload returns the file name and content of an upload, either a multipart "file" field or a
// raw body named by the "name" query parameter
func (s *DocProofServer) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		return header.Filename, data, err
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		return "", nil, errors.New("missing name parameter")
	}
	data, err := io.ReadAll(r.Body)
	return name, data, err
}

// uploadLabel returns the metrics label for an upload: its extension when supported, else "other"
func uploadLabel(name string) string {
	if !extract.IsSupported(name) {
		return metrics.OtherExt
	}
	return extract.Ext(name)
}

// handlePutDocument stores an uploaded document in slot a or b
func (s *DocProofServer) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	slot := strings.ToLower(mux.Vars(r)["slot"])

	name, data, err := s.readUpload(w, r)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("Error reading upload: %v", err), status)
		return
	}

	text, err := extract.Extract(name, data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error extracting text: %v", err), statusFor(err))
		return
	}
	metrics.Uploads.WithLabelValues(uploadLabel(name)).Inc()

	doc := newDocument(name, int64(len(data)), text)
	if doc.Placeholder {
		log.Printf("Document %s in slot %s could not be extracted, comparing its notice text", name, slot)
	}

	s.mu.Lock()
	s.workspace.setDocument(slot, doc)
	s.mu.Unlock()

	log.Printf("Stored %s in slot %s (%d bytes, version %s)", name, slot, len(data), doc.Version)
	s.publishWorkspace()
	writeJSON(w, http.StatusOK, doc.DocumentInfo)
}

// handleGetDocument returns the document in a slot with its text
func (s *DocProofServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	doc, err := s.workspace.document(mux.Vars(r)["slot"])
	s.mu.RUnlock()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument clears a slot
func (s *DocProofServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.workspace.setDocument(mux.Vars(r)["slot"], nil)
	s.mu.Unlock()

	s.publishWorkspace()
	w.WriteHeader(http.StatusNoContent)
}

// handleCompare starts a comparison of the two workspace documents
func (s *DocProofServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	if err := s.startComparison(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, s.workspaceState())
}

// handleComparison returns the workspace state, or streams it when the client subscribes
func (s *DocProofServer) handleComparison(w http.ResponseWriter, r *http.Request) {
	if isSubscribe(r) {
		s.serveSubscription(w, r, workspaceResource, s.workspaceJSON, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.workspaceState())
}

// handleReportCSV downloads the current report as CSV
func (s *DocProofServer) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	state := s.workspaceState()
	if state.Comparison == nil {
		http.Error(w, errNoComparison.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"report-%s.csv\"", state.Comparison.ID))
	if err := annotate.WriteCSV(w, state.Comparison.Report); err != nil {
		log.Printf("Error writing report: %v", err)
	}
}

// handleSelect highlights one difference by id
func (s *DocProofServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req proofproto.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err := s.workspace.selectID(req.ID)
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.publishWorkspace()
	writeJSON(w, http.StatusOK, s.workspaceState())
}

// handleClearSelection removes the highlight
func (s *DocProofServer) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.workspace.selectedID = 0
	s.mu.Unlock()

	s.publishWorkspace()
	w.WriteHeader(http.StatusNoContent)
}

// handleListFiles lists the supported documents under the root directory
func (s *DocProofServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.listDocuments()
	if err != nil {
		http.Error(w, fmt.Sprintf("Error listing documents: %v", err), http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, files)
}

// compareFiles compares two documents under the root directory
func (s *DocProofServer) compareFiles(a, b string) (*proofproto.Comparison, error) {
	textA, err := s.readDocument(a)
	if err != nil {
		return nil, err
	}
	textB, err := s.readDocument(b)
	if err != nil {
		return nil, err
	}
	return s.comparator.Trigger(textA, textB), nil
}

// handleCompareFiles compares two files from the root directory; subscribers get a new comparison
// whenever either file is written
func (s *DocProofServer) handleCompareFiles(w http.ResponseWriter, r *http.Request) {
	a := r.URL.Query().Get("a")
	b := r.URL.Query().Get("b")
	if a == "" || b == "" {
		http.Error(w, "Both a and b are required", http.StatusBadRequest)
		return
	}

	res, err := s.compareFiles(a, b)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error comparing files: %v", err), statusFor(err))
		return
	}
	if !isSubscribe(r) {
		writeJSON(w, http.StatusOK, res)
		return
	}

	load := func() ([]byte, error) {
		cur, err := s.compareFiles(a, b)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cur)
	}
	resourceID := "/files/compare?" + url.Values{"a": {a}, "b": {b}}.Encode()
	s.serveSubscription(w, r, resourceID, load, []string{cleanRel(a), cleanRel(b)})
}

// cleanRel normalizes a slash-separated relative path the way watcher events report it
func cleanRel(rel string) string {
	return strings.TrimPrefix(path.Clean("/"+rel), "/")
}

// handleFallback forwards unknown paths to the frontend, if one is configured
func (s *DocProofServer) handleFallback(w http.ResponseWriter, r *http.Request) {
	if s.config.ProxyURL != nil {
		s.proxyRequest(w, r)
		return
	}
	http.Error(w, "Not found", http.StatusNotFound)
}

// withCORS adds CORS headers and answers preflight requests
func (s *DocProofServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.addCORSHeaders(w, r)

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// addCORSHeaders adds CORS headers to the response
func (s *DocProofServer) addCORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.config.CORS.AllowOrigins)
	w.Header().Set("Access-Control-Allow-Methods", s.config.CORS.AllowMethods)
	w.Header().Set("Access-Control-Allow-Headers", s.config.CORS.AllowHeaders)

	if s.config.CORS.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.config.CORS.MaxAge))
}
