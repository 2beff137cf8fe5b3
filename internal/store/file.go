package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"stockify/internal/game"
)

// File persists each account as its own JSON document and the market as one
// document. Writes go to a temp file and are renamed into place.
type File struct {
	accountsDir string
	marketPath  string

	mu sync.Mutex
}

func NewFile(dataDir string) (*File, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "./stockify-data"
	}
	accountsDir := filepath.Join(dataDir, "accounts")
	if err := os.MkdirAll(accountsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &File{
		accountsDir: accountsDir,
		marketPath:  filepath.Join(dataDir, "market.json"),
	}, nil
}

// accountPath encodes the id so arbitrary account ids map to safe file names.
func (f *File) accountPath(accountID string) string {
	return filepath.Join(f.accountsDir, base64.RawURLEncoding.EncodeToString([]byte(accountID))+".json")
}

func (f *File) LoadAccount(_ context.Context, accountID string) (*game.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var a game.Account
	ok, err := readJSON(f.accountPath(accountID), &a)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *File) SaveAccount(_ context.Context, a game.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeJSON(f.accountPath(a.ID), a); err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

func (f *File) LoadMarket(context.Context) ([]game.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []game.Entity
	if _, err := readJSON(f.marketPath, &out); err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	return out, nil
}

func (f *File) SaveMarket(_ context.Context, entities []game.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entities == nil {
		entities = []game.Entity{}
	}
	if err := writeJSON(f.marketPath, entities); err != nil {
		return fmt.Errorf("save market: %w", err)
	}
	return nil
}

// Leaderboard ranks every stored account by its latest recorded net worth.
func (f *File) Leaderboard(_ context.Context, limit int) ([]game.LeaderboardRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.accountsDir)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	var rows []game.LeaderboardRow
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var a game.Account
		if _, err := readJSON(filepath.Join(f.accountsDir, entry.Name()), &a); err != nil {
			return nil, fmt.Errorf("leaderboard: %w", err)
		}
		row := game.LeaderboardRow{AccountID: a.ID, Username: a.Username, NetWorthMicros: a.CreditsMicros}
		if last, ok := a.NetWorthHistory.Latest(); ok {
			row.NetWorthMicros = last.Value
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountID < rows[j].AccountID })
	return game.Leaderboard(rows, limit), nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
