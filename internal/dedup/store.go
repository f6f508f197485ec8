package dedup

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
)

// Store gates which fetched transaction signatures are new. Both
// implementations share first-run behavior: the first batch seen for a
// key becomes the baseline and produces nothing, so a fresh deployment
// does not replay a wallet's entire history.
type Store interface {
	// FilterNew takes signatures most-recent-first (as returned by the
	// RPC) and returns the unprocessed ones ordered oldest-first.
	FilterNew(key string, sigs []string) []string

	// MarkProcessed records a signature once its extraction attempt
	// completed, successfully or not.
	MarkProcessed(key, sig string)
}

func newStoreLogger(name string) *log.Logger {
	var out io.Writer = io.Discard
	if logFile, err := logging.CreateLogFile(name); err == nil {
		out = logging.CreateMultiWriter(logFile)
	}
	return log.New(out, "[DEDUP] ", log.LstdFlags)
}

// inflightSet tracks signatures a FilterNew call has admitted but
// MarkProcessed has not yet recorded. With poll and push consumers
// sharing one store, the same signature can reach FilterNew twice
// while its transaction is still being fetched; the in-flight entry
// keeps the second caller from admitting it again. Never persisted: a
// crash mid-flight re-admits the signature, which keeps the
// at-least-once delivery behavior.
type inflightSet map[string]map[string]struct{}

func (f inflightSet) add(key, sig string) {
	if f[key] == nil {
		f[key] = make(map[string]struct{})
	}
	f[key][sig] = struct{}{}
}

func (f inflightSet) has(key, sig string) bool {
	_, ok := f[key][sig]
	return ok
}

func (f inflightSet) remove(key, sig string) {
	delete(f[key], sig)
}

// CursorStore remembers only the most recent processed signature per
// key. Anything strictly newer than the cursor in a fetched batch is
// admitted.
type CursorStore struct {
	mu       sync.Mutex
	cursors  map[string]string
	inflight inflightSet
	path     string
	logger   *log.Logger
}

type cursorState struct {
	Cursors map[string]string `json:"cursors"`
}

// NewCursorStore creates a cursor store, restoring state from path if
// one is given and the file exists.
func NewCursorStore(path string) *CursorStore {
	s := &CursorStore{
		cursors:  make(map[string]string),
		inflight: make(inflightSet),
		path:     path,
		logger:   newStoreLogger("dedup.log"),
	}

	if path != "" {
		var state cursorState
		if err := loadState(path, &state); err != nil {
			s.logger.Printf("[WARN] Could not restore cursor state from %s: %v", path, err)
		} else if state.Cursors != nil {
			s.cursors = state.Cursors
			s.logger.Printf("Restored %d cursor(s) from %s", len(state.Cursors), path)
		}
	}
	return s
}

func (s *CursorStore) FilterNew(key string, sigs []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, ok := s.cursors[key]
	if !ok {
		// First run: adopt the newest visible signature as the baseline
		// without emitting anything for pre-existing history.
		if len(sigs) > 0 {
			s.cursors[key] = sigs[0]
			s.persistLocked()
			s.logger.Printf("Initialized cursor for %s at %s", key, sigs[0])
		}
		return nil
	}

	newer := sigs
	for i, sig := range sigs {
		if sig == cursor {
			newer = sigs[:i]
			break
		}
	}

	// Reverse to oldest-first so alerts follow chronological order.
	// Signatures already admitted to another consumer stay excluded
	// until their MarkProcessed lands.
	out := make([]string, 0, len(newer))
	for i := len(newer) - 1; i >= 0; i-- {
		if s.inflight.has(key, newer[i]) {
			continue
		}
		s.inflight.add(key, newer[i])
		out = append(out, newer[i])
	}
	return out
}

func (s *CursorStore) MarkProcessed(key, sig string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight.remove(key, sig)
	s.cursors[key] = sig
	s.persistLocked()
}

// Cursor returns the current cursor for key, if initialized.
func (s *CursorStore) Cursor(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.cursors[key]
	return sig, ok
}

func (s *CursorStore) persistLocked() {
	if s.path == "" {
		return
	}
	if err := saveState(s.path, cursorState{Cursors: s.cursors}); err != nil {
		s.logger.Printf("[WARN] Could not persist cursor state: %v", err)
	}
}

// SeenSet remembers a capped set of processed signatures. Membership is
// O(1); insertion beyond capacity evicts in insertion order. Eviction
// can let a very old signature look new again, which is the accepted
// cost of bounding memory.
type SeenSet struct {
	mu       sync.Mutex
	members  map[string]struct{}
	order    []string
	cap      int
	primed   map[string]bool
	inflight inflightSet
	path     string
	logger   *log.Logger
}

type seenState struct {
	Seen   []string `json:"seen"`
	Primed []string `json:"primed"`
}

// NewSeenSet creates a bounded seen-set with the given capacity,
// restoring state from path if one is given and the file exists.
func NewSeenSet(capacity int, path string) *SeenSet {
	s := &SeenSet{
		members:  make(map[string]struct{}),
		cap:      capacity,
		primed:   make(map[string]bool),
		inflight: make(inflightSet),
		path:     path,
		logger:   newStoreLogger("dedup.log"),
	}

	if path != "" {
		var state seenState
		if err := loadState(path, &state); err != nil {
			s.logger.Printf("[WARN] Could not restore seen-set state from %s: %v", path, err)
		} else {
			for _, sig := range state.Seen {
				s.insertLocked(sig)
			}
			for _, key := range state.Primed {
				s.primed[key] = true
			}
			s.logger.Printf("Restored %d seen signature(s) from %s", len(s.order), path)
		}
	}
	return s
}

func (s *SeenSet) FilterNew(key string, sigs []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed[key] {
		for _, sig := range sigs {
			s.insertLocked(sig)
		}
		s.primed[key] = true
		s.persistLocked()
		s.logger.Printf("Primed seen-set for %s with %d signature(s)", key, len(sigs))
		return nil
	}

	out := make([]string, 0, len(sigs))
	for i := len(sigs) - 1; i >= 0; i-- {
		if _, seen := s.members[sigs[i]]; seen {
			continue
		}
		if s.inflight.has(key, sigs[i]) {
			continue
		}
		s.inflight.add(key, sigs[i])
		out = append(out, sigs[i])
	}
	return out
}

func (s *SeenSet) MarkProcessed(key, sig string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight.remove(key, sig)
	s.insertLocked(sig)
	s.persistLocked()
}

// Len reports how many signatures are currently remembered.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *SeenSet) insertLocked(sig string) {
	if _, ok := s.members[sig]; ok {
		return
	}
	s.members[sig] = struct{}{}
	s.order = append(s.order, sig)

	for len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
}

func (s *SeenSet) persistLocked() {
	if s.path == "" {
		return
	}

	state := seenState{Seen: s.order}
	for key := range s.primed {
		state.Primed = append(state.Primed, key)
	}
	if err := saveState(s.path, state); err != nil {
		s.logger.Printf("[WARN] Could not persist seen-set state: %v", err)
	}
}

func loadState(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// saveState replaces the state file atomically so a crash mid-write
// cannot leave a corrupt file behind and force a re-baseline on
// restart.
func saveState(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
