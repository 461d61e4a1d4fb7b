// Package reconcile mirrors guilds, rosters and characters from the external
// directory into the local store.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
)

// ErrEnumeration wraps a failure to load the guild list. It is the only
// error that aborts a whole run.
var ErrEnumeration = errors.New("reconcile: guild enumeration failed")

// DirectoryClient is the subset of the directory API the engine calls.
type DirectoryClient interface {
	GetGuildProfile(ctx context.Context, region, realm, name string) (*directory.GuildProfile, error)
	GetGuildRoster(ctx context.Context, region, realm, name string) (*directory.GuildRoster, error)
	GetCharacterProfile(ctx context.Context, region, realm, name string) (*directory.CharacterProfile, error)
	GetCharacterEquipment(ctx context.Context, region, realm, name string) (json.RawMessage, error)
	GetCharacterMythicProfile(ctx context.Context, region, realm, name string) (json.RawMessage, error)
	GetCharacterProfessions(ctx context.Context, region, realm, name string) (json.RawMessage, error)
	GetCharacterCollectionsIndex(ctx context.Context, region, realm, name string) (*directory.CollectionsIndex, error)
	GetGenericData(ctx context.Context, href, jobID string) (json.RawMessage, error)
}

type GuildRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Guild, error)
	FindAll(ctx context.Context, filter model.GuildFilter) ([]model.Guild, error)
	Update(ctx context.Context, g *model.Guild) error
}

type CharacterRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Character, error)
	FindByIdentity(ctx context.Context, name, realm, region string) (*model.Character, error)
	// FindOrCreate returns the row matching ch's identity, inserting ch if none exists.
	FindOrCreate(ctx context.Context, ch *model.Character) (*model.Character, error)
	// FindActiveByGuildID returns characters with an open membership in the guild.
	FindActiveByGuildID(ctx context.Context, guildID int64) ([]model.Character, error)
	// UpdateSyncData writes every synced column of ch in one statement.
	UpdateSyncData(ctx context.Context, ch *model.Character) error
	MarkUnavailable(ctx context.Context, id int64, at time.Time) error
}

type GuildMemberRepository interface {
	FindAllByGuildID(ctx context.Context, guildID int64) ([]model.GuildMember, error)
	Create(ctx context.Context, m *model.GuildMember) error
	Update(ctx context.Context, m *model.GuildMember) error
	// MarkLeft sets left_at on the open memberships of the given characters.
	MarkLeft(ctx context.Context, guildID int64, characterIDs []int64, at time.Time) error
}

type GuildRankRepository interface {
	FindAllByGuildID(ctx context.Context, guildID int64) ([]model.GuildRank, error)
	// Upsert inserts r or, on (guild_id, rank_id) conflict, updates member_count only.
	Upsert(ctx context.Context, r *model.GuildRank) error
}

type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// EventRecorder persists stage outcomes. Record must not block.
type EventRecorder interface {
	Record(ev *model.SyncEvent)
}

// Notifier announces finished runs.
type Notifier interface {
	NotifyRun(ctx context.Context, s *Summary) error
}

// Deps bundles every collaborator of a run.
type Deps struct {
	Directory  DirectoryClient
	Guilds     GuildRepository
	Characters CharacterRepository
	Members    GuildMemberRepository
	Ranks      GuildRankRepository
	Users      UserRepository
	Events     EventRecorder // optional
	Notifier   Notifier      // optional
	Logger     *zap.Logger   // optional
}

// Options tunes fan-out.
type Options struct {
	// GuildConcurrency caps concurrent guild workflows. Default 5.
	GuildConcurrency int
	// CharacterConcurrency caps concurrent character syncs inside one guild.
	// 1 processes characters sequentially. Default 3.
	CharacterConcurrency int
}

const (
	DefaultGuildConcurrency     = 5
	DefaultCharacterConcurrency = 3
)

func (o Options) withDefaults() Options {
	if o.GuildConcurrency <= 0 {
		o.GuildConcurrency = DefaultGuildConcurrency
	}
	if o.CharacterConcurrency <= 0 {
		o.CharacterConcurrency = DefaultCharacterConcurrency
	}
	return o
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = nopRecorder{}
	}
	return d
}

type nopRecorder struct{}

func (nopRecorder) Record(*model.SyncEvent) {}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }
