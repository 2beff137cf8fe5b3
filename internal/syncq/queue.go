package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindInvest Kind = "invest"
	KindSell   Kind = "sell"
)

// Command is a trade recorded while the API was unreachable.
type Command struct {
	Kind           Kind      `json:"kind"`
	AccountID      string    `json:"account_id"`
	EntityID       string    `json:"entity_id"`
	Amount         string    `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
	QueuedAt       time.Time `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".stockify")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
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

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if commands == nil {
		commands = []Command{}
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Push appends cmd to the queue, filling in its key and timestamp.
func Push(cmd Command) (Command, error) {
	if cmd.Kind != KindInvest && cmd.Kind != KindSell {
		return cmd, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
	if strings.TrimSpace(cmd.AccountID) == "" || strings.TrimSpace(cmd.EntityID) == "" {
		return cmd, fmt.Errorf("account and entity are required")
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = uuid.NewString()
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands, err := Load()
	if err != nil {
		return cmd, err
	}
	commands = append(commands, cmd)
	return cmd, Save(commands)
}

type Rejected struct {
	Command Command
	Err     error
}

type Result struct {
	Applied  int
	Rejected []Rejected
	// Pending holds the commands left for a later replay.
	Pending []Command
}

// Replay sends commands in queue order. A command that fails with a retryable error
// stops the replay and it and everything after it stay pending. Any other failure
// drops the command and is reported in Rejected.
func Replay(ctx context.Context, commands []Command, send func(context.Context, Command) error, retryable func(error) bool) Result {
	var res Result
	for i, cmd := range commands {
		if ctx.Err() != nil {
			res.Pending = append(res.Pending, commands[i:]...)
			return res
		}
		err := send(ctx, cmd)
		switch {
		case err == nil:
			res.Applied++
		case retryable(err):
			res.Pending = append(res.Pending, commands[i:]...)
			return res
		default:
			res.Rejected = append(res.Rejected, Rejected{Command: cmd, Err: err})
		}
	}
	return res
}
