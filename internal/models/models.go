package models

import "time"

// Placeholder values stored when a first sighting does not carry a field.
const (
	UnknownUsername      = "unknown"
	UnknownDiscriminator = "????"
)

// UserRecord is the durable row kept per observed user. One record per
// id; FirstSeen is written once at creation and never touched again.
type UserRecord struct {
	ID            uint64    `json:"id,string"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Nickname      *string   `json:"nickname,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Observation is a possibly-partial sighting of a user coming from any
// entry point (lookup, gateway event). Empty Username and zero
// Discriminator mean "unknown", not "cleared". Nickname only carries
// meaning when GuildScoped is set: a guild-scoped observation is
// authoritative for the nickname, including an explicitly empty one.
type Observation struct {
	UserID        uint64
	Username      string
	Discriminator int
	GuildScoped   bool
	Nickname      string
}

// UserSnapshot is the live view resolved from the platform; lookups
// return it to callers, the store update is a side effect.
type UserSnapshot struct {
	ID            uint64  `json:"id,string"`
	Username      string  `json:"username"`
	Discriminator int     `json:"discriminator"`
	GlobalName    string  `json:"global_name,omitempty"`
	AvatarHash    string  `json:"avatar_hash,omitempty"`
	Bot           bool    `json:"bot,omitempty"`
	GuildID       *uint64 `json:"guild_id,string,omitempty"`
	Nickname      string  `json:"nickname,omitempty"`
}

// Observation derives the partial observation carried by this snapshot.
func (s UserSnapshot) Observation() Observation {
	return Observation{
		UserID:        s.ID,
		Username:      s.Username,
		Discriminator: s.Discriminator,
		GuildScoped:   s.GuildID != nil,
		Nickname:      s.Nickname,
	}
}

type Guild struct {
	ID   uint64 `json:"id,string"`
	Name string `json:"name"`
}
