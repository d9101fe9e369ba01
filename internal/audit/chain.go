package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HashEvent returns "sha256:<hex>" over the JSON form of evt with its own
// hash cleared. Map keys are sorted by encoding/json.
func HashEvent(evt Event) string {
	evt.Chain.EventHash = ""
	canonical, err := json.Marshal(evt)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// NewEventID returns a fresh "evt_<uuid>" identifier.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// head is the persisted tip of one subjob chain.
type head struct {
	EventHash string    `json:"event_hash"`
	Seq       int       `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Heads tracks the tip of every chain written by one worker and persists
// them to chain-heads_<name>.json.
type Heads struct {
	mu    sync.Mutex
	path  string
	chain map[string]head
}

// OpenHeads loads the heads file of name in dir, creating dir as needed.
func OpenHeads(dir, name string) (*Heads, error) {
	if dir == "" {
		dir = "./state"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	file := "chain-heads.json"
	if name != "" {
		file = "chain-heads_" + sanitize(name) + ".json"
	}

	h := &Heads{path: filepath.Join(dir, file), chain: map[string]head{}}
	data, err := os.ReadFile(h.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &h.chain); err != nil {
			return nil, fmt.Errorf("parse chain heads %s: %w", h.path, err)
		}
	}
	return h, nil
}

// Link stamps evt as the next event of its subjob chain: identity, type,
// predecessor, sequence number and finally its own hash. The head does not
// move until Advance.
func (h *Heads) Link(evt *Event) {
	h.mu.Lock()
	tip := h.chain[evt.Collection.ChainKey()]
	h.mu.Unlock()

	evt.Version = EventVersion
	evt.EventType = EventCollectionPackaged
	evt.EventID = NewEventID()
	evt.Timestamp = time.Now().UTC()
	evt.Chain = ChainInfo{PrevEventHash: tip.EventHash, Seq: tip.Seq + 1}
	evt.Chain.EventHash = HashEvent(*evt)
}

// Advance moves the chain of evt to it and saves the heads file.
func (h *Heads) Advance(evt *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.chain[evt.Collection.ChainKey()] = head{
		EventHash: evt.Chain.EventHash,
		Seq:       evt.Chain.Seq,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(h.chain, "", "  ")
	if err != nil {
		return err
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, h.path)
}

// Tip returns the last event hash and sequence number of a chain; ok is
// false for a chain with no events yet.
func (h *Heads) Tip(chainKey string) (hash string, seq int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.chain[chainKey]
	return t.EventHash, t.Seq, ok
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", " ", "_", string(filepath.Separator), "_").Replace(s)
}
