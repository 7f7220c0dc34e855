// Command server runs the document proof service: two document slots compared on demand,
// file comparisons over a watched directory, and live updates for both.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"gihan9a/docproof/internal/config"
	"gihan9a/docproof/internal/extract"
	"gihan9a/docproof/internal/server"
	"gihan9a/docproof/internal/tls"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Error parsing configuration: %v", err)
	}

	if cfg.TLS.Enabled && cfg.TLS.GenerateCert {
		if err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hosts); err != nil {
			log.Fatalf("Failed to set up TLS certificate: %v", err)
		}
	}

	proofServer, err := server.NewDocProofServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	defer proofServer.Close()

	if err := proofServer.SetupWatchers(); err != nil {
		log.Fatalf("Failed to watch document directory %s: %v", cfg.RootDir, err)
	}
	logSettings(cfg)

	addr := fmt.Sprintf(":%d", cfg.Port)
	handler := proofServer.SetupRoutes()
	if cfg.TLS.Enabled {
		log.Printf("Document proof server running at https://localhost%s (cert %s, key %s)", addr, cfg.TLS.CertFile, cfg.TLS.KeyFile)
		err = http.ListenAndServeTLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile, handler)
	} else {
		log.Printf("Document proof server running at http://localhost%s", addr)
		err = http.ListenAndServe(addr, handler)
	}
	log.Fatal(err)
}

// logSettings reports the comparison settings the server starts with
func logSettings(cfg *config.Config) {
	log.Printf("Comparing documents in %s (%s)", cfg.RootDir, strings.Join(extract.Supported(), " "))

	mode := "characters"
	if cfg.Compare.LineMode {
		mode = "lines"
	}
	timeout := "none"
	if cfg.Compare.DiffTimeout > 0 {
		timeout = cfg.Compare.DiffTimeout.String()
	}
	log.Printf("Diff by %s, timeout %s, delay %v", mode, timeout, cfg.Compare.Delay)

	if cfg.Compare.CacheTTL > 0 {
		log.Printf("Caching results for %v (capacity %d)", cfg.Compare.CacheTTL, cfg.Compare.CacheCapacity)
	} else {
		log.Printf("Result cache disabled")
	}
	log.Printf("Overlay layout: %d chars per line, %d units per line", cfg.Layout.CharsPerLine, cfg.Layout.LineHeight)
}
