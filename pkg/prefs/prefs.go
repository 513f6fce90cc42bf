// Package prefs defines durable per-guild playback preferences and the
// [Store] interface used to load and save them.
//
// Preferences are loaded once when a guild's playback session is created
// and saved whenever the loop mode or volume changes. The waiting tracks of
// a guild are stored the same way, so a restarted bot keeps its queues.
package prefs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Load] when no preferences were saved for
// a guild. Callers fall back to [Defaults].
var ErrNotFound = errors.New("prefs: not found")

// DefaultVolume is the volume used when a guild never changed it.
const DefaultVolume = 100

// Preferences are the persisted playback settings of one guild.
type Preferences struct {
	GuildID string

	// LoopMode is the textual loop mode ("off", "track" or "queue").
	LoopMode string

	// Volume is in the range 0–100.
	Volume int

	UpdatedAt time.Time
}

// QueuedTrack is one persisted queue entry. The track that is playing is
// not stored.
type QueuedTrack struct {
	Source   string
	Title    string
	Artist   string
	Duration time.Duration
	Live     bool
	Direct   bool

	RequesterID   string
	RequesterName string

	AddedAt time.Time
}

// Defaults returns the preferences of a guild that never saved any.
func Defaults(guildID string) Preferences {
	return Preferences{
		GuildID:  guildID,
		LoopMode: "off",
		Volume:   DefaultVolume,
	}
}

// Store persists [Preferences]. Implementations must be safe for concurrent
// use.
type Store interface {
	// Load returns the preferences of guildID or [ErrNotFound].
	Load(ctx context.Context, guildID string) (Preferences, error)

	// Save creates or replaces the preferences of p.GuildID.
	Save(ctx context.Context, p Preferences) error

	// LoadQueue returns the saved queue of guildID in play order. A guild
	// without one yields an empty slice and no error.
	LoadQueue(ctx context.Context, guildID string) ([]QueuedTrack, error)

	// SaveQueue replaces the saved queue of guildID. An empty slice
	// deletes it.
	SaveQueue(ctx context.Context, guildID string, tracks []QueuedTrack) error

	// Close releases the resources held by the store.
	Close()
}

// LoadOrDefault loads the preferences of guildID, returning [Defaults] when
// none were saved.
func LoadOrDefault(ctx context.Context, s Store, guildID string) (Preferences, error) {
	p, err := s.Load(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return Defaults(guildID), nil
	}
	if err != nil {
		return Preferences{}, err
	}
	return p, nil
}
