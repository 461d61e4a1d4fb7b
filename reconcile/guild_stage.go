package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// CoreResult is the outcome of the core guild stage. Profile and Roster
// are set only when Success is true.
type CoreResult struct {
	Success bool
	Profile *directory.GuildProfile
	Roster  *directory.GuildRoster
	Err     error
}

// CoreGuildStage refreshes guild metadata and captures the roster snapshot.
type CoreGuildStage struct {
	dir        DirectoryClient
	guilds     GuildRepository
	characters CharacterRepository
	users      UserRepository
	logger     *zap.Logger
}

func NewCoreGuildStage(deps Deps) *CoreGuildStage {
	deps = deps.withDefaults()
	return &CoreGuildStage{
		dir:        deps.Directory,
		guilds:     deps.Guilds,
		characters: deps.Characters,
		users:      deps.Users,
		logger:     deps.Logger,
	}
}

// Sync fetches the guild profile and roster in parallel. Any fetch error,
// not-found included, fails the stage without writing anything.
func (s *CoreGuildStage) Sync(ctx context.Context, g *model.Guild) CoreResult {
	var (
		profile *directory.GuildProfile
		roster  *directory.GuildRoster
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		profile, err = s.dir.GetGuildProfile(egCtx, g.Region, g.Realm, g.Name)
		if err != nil {
			return fmt.Errorf("guild profile: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		roster, err = s.dir.GetGuildRoster(egCtx, g.Region, g.Realm, g.Name)
		if err != nil {
			return fmt.Errorf("guild roster: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return CoreResult{Err: err}
	}

	ts := now()
	g.DirectoryID = &profile.ID
	if profile.Name != "" {
		g.Name = profile.Name
	}
	if profile.Realm.Name != "" {
		g.Realm = profile.Realm.Name
	}
	g.GuildData = datatypes.JSON(profile.Raw)
	g.RosterData = datatypes.JSON(roster.Raw)
	g.MemberCount = len(roster.Members)
	g.LastUpdated = &ts
	if leader := s.resolveLeader(ctx, g, roster); leader != nil {
		g.LeaderID = leader
	}

	if err := s.guilds.Update(ctx, g); err != nil {
		return CoreResult{Err: fmt.Errorf("update guild: %w", err)}
	}
	return CoreResult{Success: true, Profile: profile, Roster: roster}
}

// resolveLeader maps the rank 0 roster entry to a local user. Any miss
// leaves the stored leader untouched.
func (s *CoreGuildStage) resolveLeader(ctx context.Context, g *model.Guild, roster *directory.GuildRoster) *int64 {
	for _, m := range roster.Members {
		if m.Rank != 0 {
			continue
		}
		realm := m.Character.Realm.Slug
		if realm == "" {
			realm = directory.Slug(g.Realm)
		}
		ch, err := s.characters.FindByIdentity(ctx, m.Character.Name, realm, strings.ToLower(g.Region))
		if err != nil || !ch.Linked() {
			s.logger.Debug("guild leader not linked",
				zap.Int64("guild_id", g.ID), zap.String("character", m.Character.Name))
			return nil
		}
		u, err := s.users.FindByID(ctx, *ch.UserID)
		if err != nil {
			s.logger.Debug("guild leader user missing",
				zap.Int64("guild_id", g.ID), zap.Int64("user_id", *ch.UserID))
			return nil
		}
		return &u.ID
	}
	return nil
}
