package service

import (
	"context"
	"errors"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
)

// OrgService resolves a user's organizations and enacts switch/change under
// policy gating. Switch runs during sign-in against an open grant; change
// is the post-login self-service variant. Each can be blocked independently
// while the org feature itself stays enabled.
type OrgService struct {
	Store  store.Store
	KV     kv.Store
	Config Config
}

// OrgList is what the org picker pages render.
type OrgList struct {
	CurrentSlug string       `json:"currentSlug"`
	Orgs        []domain.Org `json:"orgs"`
}

// ListOrgs returns the orgs the user belongs to plus their current slug.
func (s *OrgService) ListOrgs(ctx context.Context, userID string) (OrgList, error) {
	if !s.Config.EnableOrg {
		return OrgList{}, ErrConfig
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return OrgList{}, ErrNotFound
	}
	if err != nil {
		return OrgList{}, err
	}

	orgs, err := s.Store.Orgs().ListOrgsByUser(ctx, userID)
	if err != nil {
		return OrgList{}, err
	}
	return OrgList{CurrentSlug: user.OrgSlug, Orgs: orgs}, nil
}

// SwitchOrg moves the signing-in user to another org mid-flow. The grant's
// snapshot is updated so claims minted from this flow carry the new org.
func (s *OrgService) SwitchOrg(ctx context.Context, code, slug string) error {
	if !s.Config.EnableOrg || s.Config.BlockedSwitchOrg {
		return ErrConfig
	}

	grant, err := loadGrant(ctx, s.KV, code)
	if err != nil {
		return err
	}
	if err := s.moveUser(ctx, grant.User.ID, slug); err != nil {
		return err
	}

	grant.User.OrgSlug = slug
	return saveGrant(ctx, s.KV, code, grant)
}

// ChangeOrg is the post-login self-service org change for an authenticated
// user.
func (s *OrgService) ChangeOrg(ctx context.Context, userID, slug string) error {
	if !s.Config.EnableOrg || s.Config.BlockedChangeOrg {
		return ErrConfig
	}
	return s.moveUser(ctx, userID, slug)
}

// ChangeOrgForAuthID resolves a token subject before changing org. Bearer
// tokens carry the auth ID, not the internal user ID.
func (s *OrgService) ChangeOrgForAuthID(ctx context.Context, authID, slug string) error {
	if !s.Config.EnableOrg || s.Config.BlockedChangeOrg {
		return ErrConfig
	}
	user, err := s.Store.Users().GetUserByAuthID(ctx, authID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.moveUser(ctx, user.ID, slug)
}

// ListOrgsForAuthID is ListOrgs keyed by a token subject.
func (s *OrgService) ListOrgsForAuthID(ctx context.Context, authID string) (OrgList, error) {
	if !s.Config.EnableOrg {
		return OrgList{}, ErrConfig
	}
	user, err := s.Store.Users().GetUserByAuthID(ctx, authID)
	if errors.Is(err, store.ErrNotFound) {
		return OrgList{}, ErrNotFound
	}
	if err != nil {
		return OrgList{}, err
	}
	orgs, err := s.Store.Orgs().ListOrgsByUser(ctx, user.ID)
	if err != nil {
		return OrgList{}, err
	}
	return OrgList{CurrentSlug: user.OrgSlug, Orgs: orgs}, nil
}

// moveUser validates the target and persists the new current-org slug.
// Staying on the same org always succeeds without touching anything.
// Membership failures surface as ErrNotFound regardless of whether the org
// itself exists, so probing org names learns nothing.
func (s *OrgService) moveUser(ctx context.Context, userID, slug string) error {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if user.OrgSlug == slug {
		return nil
	}

	org, err := s.Store.Orgs().GetOrgBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	member, err := s.Store.Orgs().IsMember(ctx, userID, org.ID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotFound
	}
	return s.Store.Users().UpdateOrgSlug(ctx, userID, slug)
}
