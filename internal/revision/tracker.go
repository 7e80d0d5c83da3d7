package revision

import (
	"errors"
	"fmt"
	"sync"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/codec"
)

// State of an open document with respect to the remote store.
type State int

const (
	// Unsaved documents have no version token yet.
	Unsaved State = iota
	// Saved documents hold the token of the last successful read or write.
	Saved
	// Conflicted documents were rejected for a stale token and must be
	// reloaded before the next write.
	Conflicted
)

func (s State) String() string {
	switch s {
	case Unsaved:
		return "unsaved"
	case Saved:
		return "saved"
	case Conflicted:
		return "conflicted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrInFlight is returned when a write for the document is outstanding.
	ErrInFlight = errors.New("a write for this document is already in flight")

	// ErrConflicted is returned by Begin until the document is reloaded.
	ErrConflicted = fmt.Errorf("document must be reloaded before writing: %w", adapter.ErrConflict)

	// ErrNoToken is returned when deleting a document that was never saved.
	ErrNoToken = &adapter.Error{Kind: adapter.KindBadRequest, Message: "document has no version token"}
)

// Ticket authorizes one write or delete. It carries the token the remote
// content must still have for the operation to succeed.
type Ticket struct {
	Path     string
	Expected string
	Prior    *codec.Envelope
	seq      uint64
}

// Snapshot is a point-in-time copy of a tracker.
type Snapshot struct {
	Path     string `json:"path"`
	Token    string `json:"sha,omitempty"`
	State    string `json:"state"`
	InFlight bool   `json:"inFlight"`
}

// Tracker holds the version token of one open document. It is safe for
// concurrent use; at most one ticket is outstanding at a time.
type Tracker struct {
	mu       sync.Mutex
	path     string
	token    string
	state    State
	inFlight bool
	envelope *codec.Envelope
	seq      uint64
}

// New tracks a document that does not exist remotely yet.
func New(path string) *Tracker {
	return &Tracker{path: path, state: Unsaved}
}

// Opened tracks a document that was just read with token.
func Opened(path, token string, env *codec.Envelope) *Tracker {
	return &Tracker{path: path, token: token, envelope: env, state: Saved}
}

func (t *Tracker) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

func (t *Tracker) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Envelope returns the envelope of the last read or write.
func (t *Tracker) Envelope() *codec.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.envelope
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Path: t.path, Token: t.token, State: t.state.String(), InFlight: t.inFlight}
}

// Stale reports whether remoteToken differs from the tracked token.
func (t *Tracker) Stale(remoteToken string) bool {
	return CheckConflict(t.Token(), remoteToken)
}

// Begin starts a write. The returned ticket must be passed to Complete or Fail.
func (t *Tracker) Begin() (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return Ticket{}, ErrInFlight
	}
	if t.state == Conflicted {
		return Ticket{}, ErrConflicted
	}
	return t.issue(), nil
}

// BeginDelete starts a delete. Deleting requires a token.
func (t *Tracker) BeginDelete() (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return Ticket{}, ErrInFlight
	}
	if t.state == Conflicted {
		return Ticket{}, ErrConflicted
	}
	if t.token == "" {
		return Ticket{}, ErrNoToken
	}
	return t.issue(), nil
}

func (t *Tracker) issue() Ticket {
	t.inFlight = true
	t.seq++
	return Ticket{Path: t.path, Expected: t.token, Prior: t.envelope, seq: t.seq}
}

// Complete records a successful write. It returns false when the ticket no
// longer matches the tracked document; the result is then discarded.
func (t *Tracker) Complete(tk Ticket, token string, env *codec.Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.current(tk) {
		return false
	}
	t.inFlight = false
	t.token = token
	t.envelope = env
	t.state = Saved
	return true
}

// CompleteDelete records a successful delete; the document becomes unsaved.
func (t *Tracker) CompleteDelete(tk Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.current(tk) {
		return false
	}
	t.inFlight = false
	t.token = ""
	t.envelope = nil
	t.state = Unsaved
	return true
}

// Fail records a failed write or delete. The token is left untouched; a
// conflict moves the document to Conflicted.
func (t *Tracker) Fail(tk Ticket, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.current(tk) {
		return
	}
	t.inFlight = false
	if errors.Is(err, adapter.ErrConflict) {
		t.state = Conflicted
	}
}

// Refresh adopts a token obtained by re-reading the document.
func (t *Tracker) Refresh(token string, env *codec.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return ErrInFlight
	}
	t.token = token
	t.envelope = env
	t.state = Saved
	if token == "" {
		t.state = Unsaved
	}
	return nil
}

// Reset retargets the tracker at a new, unsaved path.
func (t *Tracker) Reset(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return ErrInFlight
	}
	t.seq++
	t.path = path
	t.token = ""
	t.envelope = nil
	t.state = Unsaved
	return nil
}

func (t *Tracker) current(tk Ticket) bool {
	return t.inFlight && tk.seq == t.seq && tk.Path == t.path
}
