package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"foundry/internal/domain"
	"foundry/internal/events"
	"foundry/internal/repo"
)

type ProfileCreateOptions struct {
	ID            string
	FullName      string
	Kind          string
	Role          string
	Skills        []string
	CapacityScore float64
	// FoundryID, when set, also makes the profile a member.
	FoundryID string
	ActorID   string
}

func (e Engine) CreateProfile(ctx context.Context, opts ProfileCreateOptions) (domain.Profile, error) {
	if strings.TrimSpace(opts.FullName) == "" {
		return domain.Profile{}, invalidf("full_name is required")
	}
	role, err := domain.ParseRole(opts.Role)
	if err != nil {
		return domain.Profile{}, invalidf("%v", err)
	}
	kind := opts.Kind
	if kind == "" {
		kind = "person"
		if role == domain.RoleAIAgent {
			kind = "ai_agent"
		}
	}
	if kind != "person" && kind != "ai_agent" {
		return domain.Profile{}, invalidf("kind must be person or ai_agent")
	}
	if opts.CapacityScore < 0 {
		return domain.Profile{}, invalidf("capacity_score must be positive")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	capacity := opts.CapacityScore
	if opts.FoundryID != "" {
		if err := e.require(ctx, tx, opts.FoundryID, opts.ActorID, "profile.write"); err != nil {
			return domain.Profile{}, err
		}
		if capacity == 0 {
			cfg, err := e.configFor(ctx, tx, opts.FoundryID)
			if err != nil {
				return domain.Profile{}, err
			}
			capacity = cfg.Recommender.DefaultCapacity
		}
	}
	if capacity == 0 {
		capacity = 10
	}
	p := domain.Profile{
		ID:            id,
		FullName:      strings.TrimSpace(opts.FullName),
		Kind:          kind,
		Role:          role,
		Skills:        normalizeList(opts.Skills),
		CapacityScore: capacity,
		CreatedAt:     now,
	}
	if err := e.Repo.UpsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, err
	}
	if err := e.journal().Append(ctx, tx, events.ProfileCreated, opts.FoundryID, "profile", p.ID, opts.ActorID, events.EventPayload{"role": p.Role, "kind": p.Kind}); err != nil {
		return domain.Profile{}, err
	}
	if opts.FoundryID != "" {
		if err := e.addMember(ctx, tx, opts.FoundryID, p.ID, opts.ActorID); err != nil {
			return domain.Profile{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func (e Engine) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return e.Repo.GetProfile(ctx, id)
}

func (e Engine) ListProfiles(ctx context.Context, foundryID string) ([]domain.Member, error) {
	return e.Repo.ListMembers(ctx, e.DB, foundryID)
}

func (e Engine) AddMember(ctx context.Context, foundryID, profileID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, foundryID, actorID, "profile.write"); err != nil {
		return err
	}
	if _, err := e.Repo.GetProfileTx(ctx, tx, profileID); err != nil {
		return err
	}
	if err := e.addMember(ctx, tx, foundryID, profileID, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) addMember(ctx context.Context, q repo.Querier, foundryID, profileID, actorID string) error {
	if err := e.Repo.AddMember(ctx, q, foundryID, profileID, e.stamp()); err != nil {
		return err
	}
	return e.journal().Append(ctx, q, events.MemberAdded, foundryID, "profile", profileID, actorID, nil)
}

func (e Engine) CreateTeam(ctx context.Context, foundryID, name string, memberIDs []string, actorID string) (domain.Team, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Team{}, invalidf("team name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, foundryID, actorID, "team.write"); err != nil {
		return domain.Team{}, err
	}
	members := normalizeList(memberIDs)
	for _, id := range members {
		if err := e.ensureMember(ctx, tx, foundryID, id); err != nil {
			return domain.Team{}, err
		}
	}
	t := domain.Team{ID: ulid.Make().String(), FoundryID: foundryID, Name: strings.TrimSpace(name), MemberIDs: members, CreatedAt: e.stamp()}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if err := e.journal().Append(ctx, tx, events.TeamCreated, foundryID, "team", t.ID, actorID, events.EventPayload{"name": t.Name, "member_ids": members}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

func (e Engine) AddTeamMember(ctx context.Context, teamID, profileID, actorID string) (domain.Team, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	if err := e.require(ctx, tx, t.FoundryID, actorID, "team.write"); err != nil {
		return domain.Team{}, err
	}
	if err := e.ensureMember(ctx, tx, t.FoundryID, profileID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.AddTeamMember(ctx, tx, teamID, profileID); err != nil {
		return domain.Team{}, err
	}
	if err := e.journal().Append(ctx, tx, events.MemberAdded, t.FoundryID, "team", t.ID, actorID, events.EventPayload{"profile_id": profileID}); err != nil {
		return domain.Team{}, err
	}
	if t, err = e.Repo.GetTeam(ctx, tx, teamID); err != nil {
		return domain.Team{}, err
	}
	return t, tx.Commit()
}

func (e Engine) ListTeams(ctx context.Context, foundryID string) ([]domain.Team, error) {
	return e.Repo.ListTeams(ctx, foundryID)
}

// CreateAPIKey issues a key for the actor's own profile. The raw key is
// only returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, profileID, name, actorID string) (string, domain.APIKey, error) {
	if profileID == "" {
		profileID = actorID
	}
	if profileID != actorID {
		return "", domain.APIKey{}, ErrNotTaskActor
	}
	if _, err := e.Repo.GetProfile(ctx, profileID); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	raw := "fk_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        ulid.Make().String(),
		ProfileID: profileID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.journal().Append(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, profileID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, profileID)
}

// DeleteAPIKey revokes one of the actor's own keys.
func (e Engine) DeleteAPIKey(ctx context.Context, id, actorID string) error {
	key, err := e.Repo.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if key.ProfileID != actorID {
		return ErrNotTaskActor
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.journal().Append(ctx, tx, events.APIKeyDeleted, "", "api_key", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
