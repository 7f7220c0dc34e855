package server

import (
	"log"
	"net/http"
)

// proxyRequest forwards the request to the configured frontend
func (s *DocProofServer) proxyRequest(w http.ResponseWriter, r *http.Request) {
	if s.reverseProxy == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	log.Printf("Forwarding %s %s to %s", r.Method, r.URL.Path, s.config.ProxyURL.Host)
	s.reverseProxy.ServeHTTP(w, r)
}
