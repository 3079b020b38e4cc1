// Package rolesync reconciles Discord roles across configured guilds after a
// Roblox account is linked.
package rolesync

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
	"github.com/SpectacleRBX/SpectacleBot/pkg/discord"
	"github.com/SpectacleRBX/SpectacleBot/pkg/observability"
)

// AuditReason is recorded in the guild audit log for every role grant.
const AuditReason = "Roblox verification"

// DiscordClient is the subset of the Discord API used for reconciliation.
type DiscordClient interface {
	GuildMember(ctx context.Context, guildID, userID int64) (*discord.Member, error)
	AddMemberRoles(ctx context.Context, guildID int64, member *discord.Member, add []int64, reason string) error
}

// GroupChecker reports whether a Roblox account belongs to a group.
type GroupChecker interface {
	CheckGroupMembership(ctx context.Context, groupID, robloxID int64, accessToken string) (bool, error)
}

// Result summarizes one reconciliation run.
type Result struct {
	// Applied maps guild ID to the role IDs granted there.
	Applied map[int64][]int64

	// Errors maps guild ID to the failure that stopped reconciliation for
	// that guild. Guilds absent from both maps were skipped.
	Errors map[int64]error
}

// Synchronizer applies additive role grants to every configured guild.
type Synchronizer struct {
	log     logrus.FieldLogger
	cfg     *config.VerificationConfig
	discord DiscordClient
	groups  GroupChecker
	metrics *observability.Metrics
}

// NewSynchronizer creates a role synchronizer. Metrics may be nil.
func NewSynchronizer(log logrus.FieldLogger, cfg *config.VerificationConfig, dc DiscordClient, gc GroupChecker, metrics *observability.Metrics) *Synchronizer {
	return &Synchronizer{
		log:     log.WithField("component", "rolesync"),
		cfg:     cfg,
		discord: dc,
		groups:  gc,
		metrics: metrics,
	}
}

// Apply reconciles roles for the user in every configured guild. Group
// membership is checked at most once per group per run. A failed group check
// is treated as not a member so the verified role is still granted. Guild
// failures are isolated and reported in the result.
func (s *Synchronizer) Apply(ctx context.Context, requesterID, robloxID int64, accessToken string) *Result {
	result := &Result{
		Applied: make(map[int64][]int64),
		Errors:  make(map[int64]error),
	}

	// Run-scoped cache so guilds sharing a group cost one remote check.
	groupCache := make(map[int64]bool)

	for _, guildID := range s.cfg.GuildIDs() {
		logCtx := s.log.WithFields(logrus.Fields{
			"guild_id":     guildID,
			"requester_id": requesterID,
		})

		guildCfg := s.cfg.ForGuild(guildID)

		member, err := s.discord.GuildMember(ctx, guildID, requesterID)
		if err != nil {
			if errors.Is(err, discord.ErrMemberNotFound) {
				logCtx.Debug("User is not a member, skipping guild")

				continue
			}

			logCtx.WithError(err).Error("Failed to fetch guild member")

			result.Errors[guildID] = err

			continue
		}

		want := s.rolesFor(ctx, logCtx, &guildCfg, robloxID, accessToken, groupCache)

		add := make([]int64, 0, len(want))

		for _, roleID := range want {
			if !member.HasRole(roleID) {
				add = append(add, roleID)
			}
		}

		if len(add) == 0 {
			continue
		}

		if err := s.discord.AddMemberRoles(ctx, guildID, member, add, AuditReason); err != nil {
			logCtx.WithError(err).Error("Failed to grant roles")

			result.Errors[guildID] = err

			continue
		}

		logCtx.WithField("role_ids", add).Info("Granted roles")

		s.metrics.RecordRoleGrants(guildID, len(add))

		result.Applied[guildID] = add
	}

	return result
}

// rolesFor computes the role set the user should hold in the guild.
func (s *Synchronizer) rolesFor(ctx context.Context, logCtx logrus.FieldLogger, guildCfg *config.GuildConfig, robloxID int64, accessToken string, groupCache map[int64]bool) []int64 {
	var want []int64

	if guildCfg.VerifiedRoleID != 0 {
		want = append(want, guildCfg.VerifiedRoleID)
	}

	if guildCfg.GroupMemberRoleID == 0 || guildCfg.RobloxGroupID == 0 {
		return want
	}

	isMember, cached := groupCache[guildCfg.RobloxGroupID]
	if !cached {
		var err error

		isMember, err = s.groups.CheckGroupMembership(ctx, guildCfg.RobloxGroupID, robloxID, accessToken)
		if err != nil {
			logCtx.WithError(err).WithField("group_id", guildCfg.RobloxGroupID).Warn("Group membership check failed, treating as non-member")

			s.metrics.RecordGroupCheck("error")

			isMember = false
		} else if isMember {
			s.metrics.RecordGroupCheck("member")
		} else {
			s.metrics.RecordGroupCheck("not_member")
		}

		groupCache[guildCfg.RobloxGroupID] = isMember
	}

	if isMember {
		want = append(want, guildCfg.GroupMemberRoleID)
	}

	return want
}
