// Package membership keeps the community group in step with each student's
// registration-derived expiry and serializes every mutation of group membership.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cececho/internal/authz"
	"cececho/internal/logging"
	"cececho/internal/metrics"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

const maxUpdateAttempts = 5

// Config names the community group and the program length used for expiry.
type Config struct {
	GroupName        string
	GroupDescription string
	ProgramYears     int
}

// Store is the subset of the store the manager reads and writes.
type Store interface {
	interfaces.UserStore
	interfaces.GroupStore
}

// RoomEvictor takes a user's live connections out of a group's room.
type RoomEvictor interface {
	Evict(userID, room string)
}

// Manager owns every membership mutation.
type Manager struct {
	store   Store
	config  Config
	locks   *keyedMutex
	now     func() time.Time
	evictor RoomEvictor
}

// NewManager creates a membership manager.
func NewManager(store Store, config Config) *Manager {
	if config.ProgramYears <= 0 {
		config.ProgramYears = DefaultProgramYears
	}
	return &Manager{
		store:  store,
		config: config,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// SetClock replaces the wall clock. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetEvictor installs the hook run after users are removed from a group, so removed
// members stop receiving the group's relays without reconnecting.
func (m *Manager) SetEvictor(evictor RoomEvictor) {
	m.evictor = evictor
}

func (m *Manager) evict(groupID string, userIDs ...string) {
	if m.evictor == nil {
		return
	}
	for _, id := range userIDs {
		m.evictor.Evict(id, groupID)
	}
}

// IsExpired applies the configured program length.
func (m *Manager) IsExpired(registrationNumber string) bool {
	return isExpiredAfter(registrationNumber, m.now(), m.config.ProgramYears)
}

func (m *Manager) communityKey() string {
	return "community:" + strings.ToLower(strings.TrimSpace(m.config.GroupName))
}

// EnsureStudentMembership enrolls a current student into the community group, or removes
// an expired one. It is a no-op for missing users and non-students. The group is created
// with the student as founding admin when it does not exist yet.
func (m *Manager) EnsureStudentMembership(ctx context.Context, userID string) (*types.Group, error) {
	user, err := m.store.GetUser(ctx, userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user.Role != types.RoleStudent {
		return nil, nil
	}

	unlock := m.locks.Lock(m.communityKey())
	defer unlock()

	group, err := m.ensureCommunityGroup(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	expired := m.IsExpired(user.RegistrationNumber)
	var outcome string
	group, err = m.mutateGroup(ctx, group.ID, func(g *types.Group) (bool, error) {
		present := g.HasMember(user.ID)
		switch {
		case expired && present:
			g.Members = g.MembersWithout(user.ID)
			g.Admins = without(g.Admins, user.ID)
			outcome = "removed"
			return true, nil
		case !expired && !present:
			g.Members = append(g.Members, types.Member{
				UserID:   user.ID,
				Role:     types.MemberRoleMember,
				JoinedAt: m.now().UTC(),
			})
			outcome = "enrolled"
			return true, nil
		default:
			outcome = ""
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}

	switch outcome {
	case "removed":
		m.evict(group.ID, user.ID)
		metrics.MembershipRemoved.WithLabelValues("expired").Inc()
		logging.Info().Str("user_id", user.ID).Str("group_id", group.ID).Msg("Removed expired student from community group")
	case "enrolled":
		metrics.MembershipAdded.Inc()
		logging.Info().Str("user_id", user.ID).Str("group_id", group.ID).Msg("Enrolled student into community group")
	}
	return group, nil
}

// RemoveMembership drops a user from the community group. Used when an account is deleted.
func (m *Manager) RemoveMembership(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(m.communityKey())
	defer unlock()

	group, err := m.store.FindGroupByName(ctx, m.config.GroupName)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find community group: %w", err)
	}

	removed := false
	_, err = m.mutateGroup(ctx, group.ID, func(g *types.Group) (bool, error) {
		if !g.HasMember(userID) {
			removed = false
			return false, nil
		}
		g.Members = g.MembersWithout(userID)
		g.Admins = without(g.Admins, userID)
		removed = true
		return true, nil
	})
	if err == nil && removed {
		m.evict(group.ID, userID)
		metrics.MembershipRemoved.WithLabelValues("deleted").Inc()
	}
	return err
}

// CleanupExpired removes every member who is currently a student with an expired
// registration. The group is written once, and only when something was removed.
func (m *Manager) CleanupExpired(ctx context.Context) (types.CleanupResult, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	unlock := m.locks.Lock(m.communityKey())
	defer unlock()

	group, err := m.store.FindGroupByName(ctx, m.config.GroupName)
	if errors.Is(err, interfaces.ErrNotFound) {
		return types.CleanupResult{}, nil
	}
	if err != nil {
		return types.CleanupResult{}, fmt.Errorf("failed to find community group: %w", err)
	}

	result := types.CleanupResult{GroupFound: true}
	var removed []string
	_, err = m.mutateGroup(ctx, group.ID, func(g *types.Group) (bool, error) {
		result.RemovedCount = 0
		removed = removed[:0]
		if len(g.Members) == 0 {
			return false, nil
		}

		ids := make([]string, len(g.Members))
		for i, member := range g.Members {
			ids[i] = member.UserID
		}
		users, err := m.store.GetUsersByIDs(ctx, ids)
		if err != nil {
			return false, fmt.Errorf("failed to resolve members: %w", err)
		}

		kept := make(types.Members, 0, len(g.Members))
		for _, member := range g.Members {
			u := users[member.UserID]
			if u != nil && u.Role == types.RoleStudent && m.IsExpired(u.RegistrationNumber) {
				g.Admins = without(g.Admins, member.UserID)
				removed = append(removed, member.UserID)
				result.RemovedCount++
				continue
			}
			kept = append(kept, member)
		}
		if result.RemovedCount == 0 {
			return false, nil
		}
		g.Members = kept
		return true, nil
	})
	if err != nil {
		return types.CleanupResult{GroupFound: true}, err
	}

	if result.RemovedCount > 0 {
		m.evict(group.ID, removed...)
		metrics.MembershipRemoved.WithLabelValues("sweep").Add(float64(result.RemovedCount))
		logging.Info().Str("group_id", group.ID).Int("removed", result.RemovedCount).Msg("Removed expired students from community group")
	}
	return result, nil
}

// AddMember appends userID to a group on behalf of actorID, who must be a group admin.
func (m *Manager) AddMember(ctx context.Context, actorID, groupID, userID string) (*types.Group, error) {
	if !types.IsValidUserID(userID) {
		return nil, types.ValidationError(types.ErrInvalidUserID)
	}

	unlock := m.locks.Lock("group:" + groupID)
	defer unlock()

	if _, err := m.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, types.NotFound("User not found")
		}
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	return m.mutateGroup(ctx, groupID, func(g *types.Group) (bool, error) {
		if err := authz.RequireGroupAdmin(g, actorID); err != nil {
			return false, err
		}
		if g.HasMember(userID) {
			return false, types.WrapError(types.CodeConflict, "User is already a member of this group", ErrAlreadyMember)
		}
		g.Members = append(g.Members, types.Member{
			UserID:   userID,
			Role:     types.MemberRoleMember,
			JoinedAt: m.now().UTC(),
		})
		return true, nil
	})
}

// ListGroupsForUser is the group-listing access point: it sweeps expired members,
// re-evaluates the caller's own enrollment and then lists the caller's groups.
func (m *Manager) ListGroupsForUser(ctx context.Context, userID string) ([]*types.Group, error) {
	if _, err := m.CleanupExpired(ctx); err != nil {
		logging.Warn().Err(err).Msg("Community cleanup failed during group listing")
	}
	if _, err := m.EnsureStudentMembership(ctx, userID); err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("Community enrollment failed during group listing")
	}
	groups, err := m.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// ensureCommunityGroup finds the community group or creates it with founderID as its admin.
// Callers hold the community lock.
func (m *Manager) ensureCommunityGroup(ctx context.Context, founderID string) (*types.Group, error) {
	group, err := m.store.FindGroupByName(ctx, m.config.GroupName)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to find community group: %w", err)
	}

	now := m.now().UTC()
	group = &types.Group{
		ID:          uuid.NewString(),
		Name:        m.config.GroupName,
		Description: m.config.GroupDescription,
		Creator:     founderID,
		Members:     types.Members{{UserID: founderID, Role: types.MemberRoleAdmin, JoinedAt: now}},
		Admins:      types.StringList{founderID},
		CreatedAt:   now,
	}
	err = m.store.CreateGroup(ctx, group)
	if errors.Is(err, interfaces.ErrDuplicate) {
		// Another process created it first
		return m.store.FindGroupByName(ctx, m.config.GroupName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create community group: %w", err)
	}

	logging.Info().Str("group_id", group.ID).Str("founder", founderID).Msg("Created community group")
	return group, nil
}

// mutateGroup re-fetches the group, applies mutate and writes it back with a version check,
// retrying on concurrent modification. mutate reports whether it changed anything.
func (m *Manager) mutateGroup(ctx context.Context, groupID string, mutate func(*types.Group) (bool, error)) (*types.Group, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		group, err := m.store.GetGroup(ctx, groupID)
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, types.NotFound("Group not found")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
		}

		changed, err := mutate(group)
		if err != nil {
			return nil, err
		}
		if !changed {
			return group, nil
		}

		err = m.store.UpdateGroup(ctx, group, group.Version)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, interfaces.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update group %s: %w", groupID, err)
		}
		logging.Debug().Str("group_id", groupID).Int("attempt", attempt).Msg("Group version conflict, retrying")
	}
	return nil, types.WrapError(types.CodeConflict, "Group was modified concurrently, please retry", ErrTooManyConflicts)
}

func without(list types.StringList, id string) types.StringList {
	if !list.Contains(id) {
		return list
	}
	kept := make(types.StringList, 0, len(list))
	for _, v := range list {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}
