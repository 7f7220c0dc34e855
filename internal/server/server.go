package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gihan9a/docproof/internal/compare"
	"gihan9a/docproof/internal/config"
	"gihan9a/docproof/internal/extract"
)

var errOutsideRoot = errors.New("path escapes the document directory")

// DocProofServer serves document comparisons over HTTP
type DocProofServer struct {
	config        *config.Config
	comparator    *compare.Comparator
	workspace     *workspace
	subscriptions map[string]map[string]*Subscription
	watched       map[string][]string // resource ID -> document paths relative to RootDir
	reverseProxy  *httputil.ReverseProxy
	mu            sync.RWMutex
	pubMu         sync.Mutex // serializes loading a resource with sending it
	watcher       *fsnotify.Watcher
}

// NewDocProofServer creates a new DocProofServer
func NewDocProofServer(config *config.Config) (*DocProofServer, error) {
	// Create file watcher
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	server := &DocProofServer{
		config: config,
		comparator: compare.New(compare.Options{
			Engine:        config.EngineOptions(),
			Layout:        config.Layout,
			CacheTTL:      config.Compare.CacheTTL,
			CacheCapacity: config.Compare.CacheCapacity,
		}),
		workspace:     newWorkspace(),
		subscriptions: make(map[string]map[string]*Subscription),
		watched:       make(map[string][]string),
		watcher:       watcher,
	}

	// Configure reverse proxy if URL is provided
	if config.ProxyURL != nil {
		server.setupProxy()
	}

	// Start watching for file changes
	go server.watchFiles()

	return server, nil
}

// setupProxy configures the reverse proxy to the frontend
func (s *DocProofServer) setupProxy() {
	// Create a transport with optional insecure TLS setting
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if s.config.InsecureProxy {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	s.reverseProxy = &httputil.ReverseProxy{
		Rewrite: func(req *httputil.ProxyRequest) {
			req.SetURL(s.config.ProxyURL)
			req.SetXForwarded()
		},
		Transport: transport,
	}

	log.Printf("Proxy mode enabled: Unknown paths will be forwarded to %s", s.config.ProxyURL.String())
	if s.config.InsecureProxy {
		log.Printf("Warning: SSL certificate verification disabled for proxy requests")
	}
}

// Close cleans up resources used by the server
func (s *DocProofServer) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.comparator.Close()
}

// SetupWatchers recursively adds directories under RootDir to the watcher
func (s *DocProofServer) SetupWatchers() error {
	_, err := s.watchTree(s.config.RootDir)
	return err
}

// watchTree adds root and every directory below it to the watcher and returns the supported
// documents it found
func (s *DocProofServer) watchTree(root string) ([]string, error) {
	var docs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return s.watcher.Add(path)
		}
		if extract.IsSupported(path) {
			docs = append(docs, path)
		}
		return nil
	})
	return docs, err
}

// watchNewDir starts watching a directory created after startup. Documents already written
// into it missed their events, so their comparisons are refreshed here.
func (s *DocProofServer) watchNewDir(dir string) {
	docs, err := s.watchTree(dir)
	if err != nil {
		log.Printf("Error watching directory %s: %v", dir, err)
	}
	log.Printf("Watching new directory: %s", dir)

	for _, doc := range docs {
		relPath, err := s.relPath(doc)
		if err != nil {
			log.Printf("Error determining document path: %v", err)
			continue
		}
		s.publishFile(relPath)
	}
}

// watchFiles re-runs file comparisons whose documents changed
func (s *DocProofServer) watchFiles() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watchNewDir(event.Name)
					continue
				}
			}

			// Only process writes to supported documents
			if !extract.IsSupported(event.Name) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			relPath, err := s.relPath(event.Name)
			if err != nil {
				log.Printf("Error determining document path: %v", err)
				continue
			}

			log.Printf("File changed: %s", relPath)
			s.publishFile(relPath)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

// relPath converts an absolute watcher path to a slash-separated path relative to RootDir
func (s *DocProofServer) relPath(path string) (string, error) {
	rel, err := filepath.Rel(s.config.RootDir, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// resolvePath converts a slash-separated path relative to RootDir to a file path, refusing paths
// that leave RootDir
func (s *DocProofServer) resolvePath(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", errOutsideRoot
	}
	return filepath.Join(s.config.RootDir, clean), nil
}

// readDocument reads and extracts a document below RootDir
func (s *DocProofServer) readDocument(rel string) (string, error) {
	path, err := s.resolvePath(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return extract.Extract(path, data)
}

// listDocuments returns supported documents below RootDir, sorted
func (s *DocProofServer) listDocuments() ([]string, error) {
	var files []string
	err := filepath.Walk(s.config.RootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !extract.IsSupported(path) {
			return nil
		}
		rel, err := s.relPath(path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// SetupRoutes configures the HTTP routes for the server
func (s *DocProofServer) SetupRoutes() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Handle("/diff", gzhttp.GzipHandler(http.HandlerFunc(s.handleDiff))).Methods(http.MethodPost)
	api.HandleFunc("/formats", s.handleFormats).Methods(http.MethodGet)
	api.HandleFunc("/layout", s.handleLayout).Methods(http.MethodGet)

	api.HandleFunc("/documents/{slot:[abAB]}", s.handlePutDocument).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/documents/{slot:[abAB]}", s.handleGetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{slot:[abAB]}", s.handleDeleteDocument).Methods(http.MethodDelete)

	api.HandleFunc("/compare", s.handleCompare).Methods(http.MethodPost)
	api.HandleFunc("/comparison", s.handleComparison).Methods(http.MethodGet)
	api.HandleFunc("/comparison/report.csv", s.handleReportCSV).Methods(http.MethodGet)
	api.HandleFunc("/selection", s.handleSelect).Methods(http.MethodPut)
	api.HandleFunc("/selection", s.handleClearSelection).Methods(http.MethodDelete)

	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/compare", s.handleCompareFiles).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.PathPrefix("/").HandlerFunc(s.handleFallback)

	if s.config.CORS.Enabled {
		return s.withCORS(router)
	}
	return router
}
