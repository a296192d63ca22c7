package api

import (
	"context"
	"fmt"
	"time"

	"cececho/pkg/types"
)

type memberView struct {
	User     *types.UserProfile `json:"user"`
	Role     string             `json:"role"`
	JoinedAt time.Time          `json:"joinedAt"`
}

// groupView is a group with member and admin ids resolved to profiles.
type groupView struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Creator     *types.UserProfile   `json:"creator"`
	Members     []memberView         `json:"members"`
	Admins      []*types.UserProfile `json:"admins"`
	IsPrivate   bool                 `json:"isPrivate"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// callView is a call with its caller and callee resolved to profiles.
type callView struct {
	ID        string             `json:"id"`
	Caller    *types.UserProfile `json:"caller"`
	Callee    *types.UserProfile `json:"callee"`
	GroupID   *string            `json:"groupId"`
	CallType  types.CallType     `json:"callType"`
	Status    types.CallStatus   `json:"status"`
	MeetingID string             `json:"meetingId,omitempty"`
	StartTime *time.Time         `json:"startTime"`
	EndTime   *time.Time         `json:"endTime"`
	Duration  *int64             `json:"duration"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type profiles map[string]*types.User

func (p profiles) get(id string) *types.UserProfile {
	if u, ok := p[id]; ok {
		return u.Profile()
	}
	return types.UnknownProfile(id)
}

func (s *Server) resolve(ctx context.Context, ids []string) (profiles, error) {
	if len(ids) == 0 {
		return profiles{}, nil
	}
	users, err := s.deps.Store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}
	return profiles(users), nil
}

func (s *Server) enrichGroups(ctx context.Context, groups []*types.Group) ([]groupView, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok && id != "" {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, g := range groups {
		add(g.Creator)
		for _, m := range g.Members {
			add(m.UserID)
		}
		for _, a := range g.Admins {
			add(a)
		}
	}

	users, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		view := groupView{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Creator:     users.get(g.Creator),
			Members:     make([]memberView, 0, len(g.Members)),
			Admins:      make([]*types.UserProfile, 0, len(g.Admins)),
			IsPrivate:   g.IsPrivate,
			CreatedAt:   g.CreatedAt,
			UpdatedAt:   g.UpdatedAt,
		}
		for _, m := range g.Members {
			view.Members = append(view.Members, memberView{User: users.get(m.UserID), Role: m.Role, JoinedAt: m.JoinedAt})
		}
		for _, a := range g.Admins {
			view.Admins = append(view.Admins, users.get(a))
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Server) enrichCall(ctx context.Context, c *types.Call) (*callView, error) {
	ids := []string{c.CallerID}
	if c.CalleeID != nil {
		ids = append(ids, *c.CalleeID)
	}
	users, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &callView{
		ID:        c.ID,
		Caller:    users.get(c.CallerID),
		GroupID:   c.GroupID,
		CallType:  c.CallType,
		Status:    c.Status,
		MeetingID: c.MeetingID,
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
		Duration:  c.Duration,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.CalleeID != nil {
		view.Callee = users.get(*c.CalleeID)
	}
	return view, nil
}
