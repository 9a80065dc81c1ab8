package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"racegame/internal/race"
)

// Command is an operation queued while the API was unreachable. The ID is
// fixed at queue time so a replay that half-succeeded can be sent again.
type Command struct {
	race.Operation
	QueuedAt time.Time `json:"queued_at"`
}

type Queue struct {
	path string
}

func Open() (*Queue, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return OpenAt(filepath.Join(home, ".race", "queue.json"))
}

func OpenAt(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: path}, nil
}

func (q *Queue) Path() string {
	return q.path
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// Push appends op, assigning an ID when it has none, and returns the stored
// command. The sender is left empty: the server fills it from the token.
func (q *Queue) Push(op race.Operation) (Command, error) {
	commands, err := q.Load()
	if err != nil {
		return Command{}, err
	}
	if strings.TrimSpace(op.ID) == "" {
		op.ID = uuid.NewString()
	}
	op.Sender = ""
	cmd := Command{Operation: op, QueuedAt: time.Now().UTC()}
	commands = append(commands, cmd)
	return cmd, q.Save(commands)
}

// Remove drops the commands with the given IDs and reports how many remain.
func (q *Queue) Remove(ids ...string) (int, error) {
	commands, err := q.Load()
	if err != nil {
		return 0, err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := commands[:0]
	for _, cmd := range commands {
		if _, ok := drop[cmd.ID]; !ok {
			kept = append(kept, cmd)
		}
	}
	return len(kept), q.Save(kept)
}

func (q *Queue) Clear() error {
	if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Operations strips queue metadata for the replay request.
func Operations(commands []Command) []race.Operation {
	out := make([]race.Operation, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, cmd.Operation)
	}
	return out
}
