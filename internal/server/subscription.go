package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/wI2L/jsondiff"

	"gihan9a/docproof/internal/metrics"
	"gihan9a/docproof/internal/utils"
	"gihan9a/docproof/pkg/proofproto"
)

// workspaceResource is the resource ID of the shared workspace
const workspaceResource = "/workspace"

// statusSubscribed is the status code for a successful subscription
const statusSubscribed = 209

// Subscription represents a client subscription to a comparison resource
type Subscription struct {
	ID           string
	W            http.ResponseWriter
	F            http.Flusher
	LastResource []byte // Store the last resource state to calculate patches
	LastHash     string // Store the hash of the last resource

	mu     sync.Mutex // serializes writes to W
	closed bool
}

func isSubscribe(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Subscribe"), "true")
}

// AddSubscription loads the current state of a resource, registers a subscription for it and
// sends the initial frame. Publishing is paused meanwhile, so no update can fall between the
// state the client receives and its registration. watches lists the documents whose changes
// refresh the resource.
func (s *DocProofServer) AddSubscription(resourceID string, w http.ResponseWriter, f http.Flusher, load func() ([]byte, error), watches []string) (*Subscription, error) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	initialResource, err := load()
	if err != nil {
		return nil, err
	}

	// Set headers for streaming
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Subscribe", "true")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(statusSubscribed)

	sub := &Subscription{
		ID:           utils.GenerateRandomID(),
		W:            w,
		F:            f,
		LastResource: initialResource,
		LastHash:     utils.CalculateHash(initialResource),
	}

	s.mu.Lock()
	if _, exists := s.subscriptions[resourceID]; !exists {
		s.subscriptions[resourceID] = make(map[string]*Subscription)
	}
	s.subscriptions[resourceID][sub.ID] = sub
	if len(watches) > 0 {
		s.watched[resourceID] = watches
	}
	s.mu.Unlock()

	metrics.Subscribers.Inc()
	log.Printf("Added subscription %s for resource %s", sub.ID, resourceID)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if err := sub.sendFullUpdate(initialResource, sub.LastHash, ""); err != nil {
		log.Printf("Error sending initial state to subscription %s: %v", sub.ID, err)
	}
	return sub, nil
}

// RemoveSubscription removes a subscription
func (s *DocProofServer) RemoveSubscription(resourceID, subID string) {
	s.mu.Lock()
	subs, exists := s.subscriptions[resourceID]
	var sub *Subscription
	if exists {
		sub = subs[subID]
		delete(subs, subID)

		// Clean up empty subscription maps
		if len(subs) == 0 {
			delete(s.subscriptions, resourceID)
			delete(s.watched, resourceID)
		}
	}
	s.mu.Unlock()

	if sub == nil {
		return
	}
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	metrics.Subscribers.Dec()
	log.Printf("Removed subscription %s for resource %s", subID, resourceID)
}

// serveSubscription streams resourceID to the client until it disconnects
func (s *DocProofServer) serveSubscription(w http.ResponseWriter, r *http.Request, resourceID string, load func() ([]byte, error), watches []string) {
	// Ensure we can flush the response
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub, err := s.AddSubscription(resourceID, w, flusher, load, watches)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error loading %s: %v", resourceID, err), statusFor(err))
		return
	}

	// Keep the connection open until client disconnects
	<-r.Context().Done()
	s.RemoveSubscription(resourceID, sub.ID)
}

// publish sends newData to every subscriber of resourceID. Requires s.pubMu.
func (s *DocProofServer) publish(resourceID string, newData []byte) {
	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subscriptions[resourceID]))
	for _, sub := range s.subscriptions[resourceID] {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	newHash := utils.CalculateHash(newData)
	log.Printf("Notifying %d subscribers for resource %s", len(subs), resourceID)

	for _, sub := range subs {
		sub.update(newData, newHash)
	}
}

// update sends a patch from the subscriber's last state to newData, falling back to a full frame
func (sub *Subscription) update(newData []byte, newHash string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed || sub.LastHash == newHash {
		return
	}

	var err error
	if len(sub.LastResource) == 0 {
		err = sub.sendFullUpdate(newData, newHash, sub.LastHash)
	} else if err = sub.sendPatchUpdate(newData, newHash); err != nil {
		log.Printf("Error sending patch update: %v, falling back to full update", err)
		err = sub.sendFullUpdate(newData, newHash, sub.LastHash)
	}
	if err != nil {
		log.Printf("Error updating subscription %s: %v", sub.ID, err)
		return
	}

	sub.LastResource = append([]byte(nil), newData...)
	sub.LastHash = newHash
}

// sendFullUpdate sends the whole resource. Requires sub.mu.
func (sub *Subscription) sendFullUpdate(data []byte, hash, parent string) error {
	return sub.send(proofproto.Update{
		Version: []string{hash},
		Parents: parents(parent),
		Body:    string(data),
	})
}

// sendPatchUpdate sends JSON patches from the last resource to newData. Requires sub.mu.
func (sub *Subscription) sendPatchUpdate(newData []byte, newHash string) error {
	patchOperations, err := jsondiff.CompareJSON(sub.LastResource, newData)
	if err != nil {
		return err
	}

	if len(patchOperations) == 0 {
		// No changes detected
		return nil
	}

	patches := make([]proofproto.Patch, 0, len(patchOperations))
	for _, op := range patchOperations {
		patches = append(patches, proofproto.Patch{Op: op.Type, Path: string(op.Path), Value: op.Value})
	}
	return sub.send(proofproto.Update{
		Version: []string{newHash},
		Parents: parents(sub.LastHash),
		Patches: patches,
	})
}

func (sub *Subscription) send(u proofproto.Update) error {
	if err := writeUpdate(sub.W, u); err != nil {
		return err
	}
	sub.F.Flush()
	return nil
}

func parents(hash string) []string {
	if hash == "" {
		return nil
	}
	return []string{hash}
}

// writeUpdate writes one subscription frame: version headers, then either the body or each patch,
// then the frame separator
func writeUpdate(w io.Writer, u proofproto.Update) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Version: %s\r\n", strings.Join(u.Version, ", "))
	fmt.Fprintf(&b, "Parents: %s\r\n", strings.Join(u.Parents, ", "))

	if len(u.Patches) == 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(u.Body))
		b.WriteString(u.Body)
	} else {
		// Write patches header if more than one patch
		if len(u.Patches) > 1 {
			fmt.Fprintf(&b, "Patches: %d\r\n\r\n", len(u.Patches))
		}
		for i, p := range u.Patches {
			if i > 0 {
				b.WriteString("\r\n\r\n")
			}
			valueJSON, err := json.Marshal(p.Value)
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "Content-Length: %d\r\n", len(valueJSON))
			fmt.Fprintf(&b, "Content-Range: %s %s\r\n\r\n", p.Op, p.Path)
			b.Write(valueJSON)
		}
	}

	// Add separator for subscription stream
	b.WriteString("\r\n\r\n\r\n\r\n\r\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// workspaceJSON encodes the workspace state the subscription streams
func (s *DocProofServer) workspaceJSON() ([]byte, error) {
	return json.Marshal(s.workspaceState())
}

// publishWorkspace pushes the current workspace state to its subscribers
func (s *DocProofServer) publishWorkspace() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	data, err := s.workspaceJSON()
	if err != nil {
		log.Printf("Error encoding workspace: %v", err)
		return
	}
	s.publish(workspaceResource, data)
}

// publishFile recomputes every file comparison that includes relPath
func (s *DocProofServer) publishFile(relPath string) {
	type pair struct {
		resourceID string
		a, b       string
	}
	var affected []pair

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.RLock()
	for resourceID, files := range s.watched {
		if len(files) == 2 && (files[0] == relPath || files[1] == relPath) {
			affected = append(affected, pair{resourceID, files[0], files[1]})
		}
	}
	s.mu.RUnlock()

	for _, p := range affected {
		res, err := s.compareFiles(p.a, p.b)
		if err != nil {
			log.Printf("Error comparing %s and %s: %v", p.a, p.b, err)
			continue
		}
		data, err := json.Marshal(res)
		if err != nil {
			log.Printf("Error encoding comparison: %v", err)
			continue
		}
		s.publish(p.resourceID, data)
	}
}
