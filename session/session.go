package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model request to run a tool. Tool result messages carry the
// call they answer as their single ToolCall.
type ToolCall struct {
	ToolCallID string                 `json:"id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

type Message struct {
	Role      string     `json:"role"` // "system", "user", "assistant", "tool"
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Session is the conversation history of one thread.
type Session struct {
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
	path     string
}

// New creates an empty session. An empty dir keeps the session in memory only.
func New(dir, name string) (*Session, error) {
	path, err := getSessionPath(dir, name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:     name,
		Messages: []Message{},
		path:     path,
	}, nil
}

// Load loads an existing session from disk.
func Load(dir, name string) (*Session, error) {
	path, err := getSessionPath(dir, name)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("cannot load session %s: no session directory configured", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk. In-memory sessions are a no-op.
func (s *Session) Save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// ValidateName rejects thread ids that cannot be used as a file name inside
// the session directory.
func ValidateName(name string) error {
	if name == "" || name == "." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid thread id %q: must be a plain name without path separators or '..'", name)
	}
	return nil
}

func getSessionPath(dir, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s.json", name)), nil
}

// Store checkpoints thread histories between invocations. Histories handed out
// by Get are copies; nothing changes until Put commits.
type Store struct {
	dir string

	mu      sync.Mutex
	threads map[string]*Session
}

// NewStore creates a checkpointer. When dir is non-empty every commit is also
// written to <dir>/<thread>.json.
func NewStore(dir string) *Store {
	return &Store{dir: dir, threads: make(map[string]*Session)}
}

// Get returns a copy of the committed history of threadID.
func (st *Store) Get(threadID string) []Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.threads[threadID]
	if !ok {
		return nil
	}
	return append([]Message(nil), s.Messages...)
}

// Put commits messages as the full history of threadID.
func (st *Store) Put(threadID string, messages []Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.threads[threadID]
	if !ok {
		var err error
		s, err = New(st.dir, threadID)
		if err != nil {
			return err
		}
		st.threads[threadID] = s
	}
	s.Messages = append([]Message(nil), messages...)
	return s.Save()
}

// Load reads a persisted thread into the store so it can be resumed.
func (st *Store) Load(threadID string) error {
	s, err := Load(st.dir, threadID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.threads[threadID] = s
	st.mu.Unlock()
	return nil
}
