package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"foundry/internal/config"
	"foundry/internal/domain"
	"foundry/internal/engine/auth"
	"foundry/internal/events"
	"foundry/internal/repo"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotAwaitingApproval = errors.New("task not awaiting approval")
	ErrNudgeTooSoon        = errors.New("task nudged too recently")
	ErrCycle               = errors.New("objective hierarchy cycle detected")
	ErrTaskClosed          = errors.New("task is closed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotTaskActor        = errors.New("actor is not allowed to act on this task")
)

// SystemEscalationActor is recorded on events written by the sweeper.
const SystemEscalationActor = "system:escalation"

const dateLayout = "2006-01-02"

// Engine owns every state change. Config is the policy used for foundries
// that have none stored.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}

// journal writes events stamped with the engine clock.
func (e Engine) journal() events.Writer {
	return events.Writer{Now: e.now}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// configFor returns the stored policy of a foundry, falling back to the
// engine default and then to the built-in template.
func (e Engine) configFor(ctx context.Context, q repo.Querier, foundryID string) (*config.Config, error) {
	cfg, err := e.Repo.GetFoundryConfig(ctx, q, foundryID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if e.Config != nil {
		return e.Config, nil
	}
	return config.Default(foundryID), nil
}

// ConfigFor is the read-only variant of configFor used by surfaces.
func (e Engine) ConfigFor(ctx context.Context, foundryID string) (*config.Config, error) {
	return e.configFor(ctx, e.DB, foundryID)
}

func (e Engine) require(ctx context.Context, q repo.Querier, foundryID, actorID, perm string) error {
	if actorID == "" {
		return invalidf("actor required")
	}
	return e.Auth.Require(ctx, q, foundryID, actorID, perm)
}

// Authorize checks perm for actorID outside any transaction.
func (e Engine) Authorize(ctx context.Context, foundryID, actorID, perm string) error {
	return e.require(ctx, e.DB, foundryID, actorID, perm)
}

func rbacGrants(cfg *config.Config) map[string][]string {
	grants := make(map[string][]string, len(cfg.RBAC.Roles))
	for role, def := range cfg.RBAC.Roles {
		grants[role] = def.Permissions
	}
	return grants
}

// FoundryInitOptions describe a new foundry and its founding profile.
type FoundryInitOptions struct {
	ID        string
	Name      string
	ActorID   string
	ActorName string
	Config    *config.Config
}

// InitFoundry creates the foundry, stores its policy, and makes the actor
// a Founder member.
func (e Engine) InitFoundry(ctx context.Context, opts FoundryInitOptions) (domain.Foundry, error) {
	if opts.ID == "" {
		return domain.Foundry{}, invalidf("foundry id required")
	}
	if opts.ActorID == "" {
		return domain.Foundry{}, invalidf("actor required")
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(opts.ID)
	}
	now := e.stamp()
	f := domain.Foundry{ID: opts.ID, Name: opts.Name, Status: "active", CreatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Foundry{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertFoundry(ctx, tx, f); err != nil {
		return domain.Foundry{}, fmt.Errorf("insert foundry: %w", err)
	}
	if err := e.Repo.UpsertFoundryConfig(ctx, tx, f.ID, cfg); err != nil {
		return domain.Foundry{}, fmt.Errorf("insert foundry config: %w", err)
	}
	if err := e.Repo.SyncRolePermissions(ctx, tx, f.ID, rbacGrants(cfg)); err != nil {
		return domain.Foundry{}, err
	}
	actorName := opts.ActorName
	if actorName == "" {
		actorName = opts.ActorID
	}
	if err := e.Repo.EnsureProfile(ctx, tx, domain.Profile{
		ID:            opts.ActorID,
		FullName:      actorName,
		Kind:          "person",
		Role:          domain.RoleFounder,
		CapacityScore: cfg.Recommender.DefaultCapacity,
		CreatedAt:     now,
	}); err != nil {
		return domain.Foundry{}, err
	}
	if err := e.Repo.AddMember(ctx, tx, f.ID, opts.ActorID, now); err != nil {
		return domain.Foundry{}, err
	}
	if err := e.journal().Append(ctx, tx, events.FoundryCreated, f.ID, "foundry", f.ID, opts.ActorID, events.EventPayload{"name": f.Name}); err != nil {
		return domain.Foundry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Foundry{}, err
	}
	return f, nil
}

// ImportConfig replaces a foundry's policy and re-syncs role grants.
func (e Engine) ImportConfig(ctx context.Context, foundryID string, cfg *config.Config, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.require(ctx, tx, foundryID, actorID, "foundry.config.write"); err != nil {
		return err
	}
	if err := e.Repo.UpsertFoundryConfig(ctx, tx, foundryID, cfg); err != nil {
		return err
	}
	if err := e.Repo.SyncRolePermissions(ctx, tx, foundryID, rbacGrants(cfg)); err != nil {
		return err
	}
	if err := e.journal().Append(ctx, tx, events.FoundryConfigSet, foundryID, "foundry", foundryID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func normalizeList(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
