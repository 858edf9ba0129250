// Package directory maintains the list of open games and serves binary
// snapshots of it to the gateway. State is loaded lazily from storage on
// the first operation and persisted after every mutation, so a restarted
// process comes back with the same list.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JohnImril/hellgate-ws/internal/storage"
	"github.com/JohnImril/hellgate-ws/internal/wire"
)

// storageKey is the single key the whole game list lives under.
const storageKey = "games"

// Entry is one directory row. UpdatedAt is stamped by the directory on
// every upsert; values sent by callers are ignored.
type Entry struct {
	Name       string `json:"name"`
	Type       uint32 `json:"type"`
	SlotsUsed  int    `json:"slotsUsed"`
	SlotsTotal int    `json:"slotsTotal"`
	UpdatedAt  int64  `json:"updatedAt"` // unix milliseconds
}

// Directory is the game-list actor. Every operation serializes on one
// mutex, so loads, mutations and snapshots never interleave.
type Directory struct {
	store storage.Store

	mu     sync.Mutex
	loaded bool
	order  []string // insertion order, drives the persisted layout
	games  map[string]*Entry
}

// New returns a Directory over the given store. Nothing is loaded until
// the first operation.
func New(store storage.Store) *Directory {
	return &Directory{
		store: store,
		games: make(map[string]*Entry),
	}
}

// Upsert inserts or replaces the entry under e.Name and persists the list.
func (d *Directory) Upsert(ctx context.Context, e Entry) error {
	return d.upsertAt(ctx, e, time.Now())
}

func (d *Directory) upsertAt(ctx context.Context, e Entry, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	e.UpdatedAt = now.UnixMilli()
	if cur, ok := d.games[e.Name]; ok {
		*cur = e
	} else {
		fresh := e
		d.games[e.Name] = &fresh
		d.order = append(d.order, e.Name)
	}
	return d.persistLocked(ctx)
}

// Remove deletes the entry under name, if present, and persists the list.
func (d *Directory) Remove(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	delete(d.games, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return d.persistLocked(ctx)
}

// ListBin returns the current list as an encoded GameList frame, most
// recently updated entries first.
func (d *Directory) ListBin(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(d.order))
	for _, name := range d.order {
		entries = append(entries, *d.games[name])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UpdatedAt > entries[j].UpdatedAt
	})

	list := wire.GameList{Entries: make([]wire.GameEntry, len(entries))}
	for i, e := range entries {
		list.Entries[i] = wire.GameEntry{Type: e.Type, Name: e.Name}
	}
	return wire.Frame(list), nil
}

// ensureLoadedLocked pulls persisted state into memory exactly once. A load
// failure leaves the directory unloaded so the next operation retries.
func (d *Directory) ensureLoadedLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}

	value, ok, err := d.store.Get(ctx, storageKey)
	if err != nil {
		return fmt.Errorf("loading game list: %w", err)
	}
	if ok {
		order, games, err := decodeGames(value)
		if err != nil {
			return fmt.Errorf("decoding stored game list: %w", err)
		}
		d.order, d.games = order, games
	}
	d.loaded = true
	return nil
}

func (d *Directory) persistLocked(ctx context.Context) error {
	data, err := encodeGames(d.order, d.games)
	if err != nil {
		return fmt.Errorf("encoding game list: %w", err)
	}
	if err := d.store.Put(ctx, storageKey, data); err != nil {
		return fmt.Errorf("persisting game list: %w", err)
	}
	return nil
}

// encodeGames lays the list out as a JSON array of [name, entry] pairs in
// insertion order.
func encodeGames(order []string, games map[string]*Entry) ([]byte, error) {
	pairs := make([][2]any, 0, len(order))
	for _, name := range order {
		e, ok := games[name]
		if !ok {
			continue
		}
		pairs = append(pairs, [2]any{name, e})
	}
	return json.Marshal(pairs)
}

func decodeGames(data []byte) ([]string, map[string]*Entry, error) {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, nil, err
	}

	order := make([]string, 0, len(pairs))
	games := make(map[string]*Entry, len(pairs))
	for _, p := range pairs {
		var name string
		if err := json.Unmarshal(p[0], &name); err != nil {
			return nil, nil, fmt.Errorf("game name: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(p[1], &e); err != nil {
			return nil, nil, fmt.Errorf("game %q: %w", name, err)
		}
		if _, dup := games[name]; !dup {
			order = append(order, name)
		}
		games[name] = &e
	}
	return order, games, nil
}
