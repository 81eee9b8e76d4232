package domain

type Foundry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Profile struct {
	ID            string   `json:"id"`
	FullName      string   `json:"full_name"`
	Kind          string   `json:"kind" enum:"person,ai_agent"`
	Role          Role     `json:"role" enum:"Executive,Apprentice,AI_Agent,Founder"`
	Skills        []string `json:"skills"`
	CapacityScore float64  `json:"capacity_score"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

// Member is a profile seen through its membership in one foundry.
type Member struct {
	Profile
	FoundryID string `json:"foundry_id"`
	JoinedAt  string `json:"joined_at" format:"date-time"`
}

type Task struct {
	ID                  string           `json:"id"`
	FoundryID           string           `json:"foundry_id"`
	TaskNumber          int64            `json:"task_number"`
	Title               string           `json:"title"`
	Description         string           `json:"description,omitempty"`
	Type                string           `json:"type"`
	Status              Status           `json:"status"`
	RiskLevel           RiskLevel        `json:"risk_level"`
	CreatorID           string           `json:"creator_id"`
	AssigneeID          *string          `json:"assignee_id,omitempty"`
	ObjectiveID         *string          `json:"objective_id,omitempty"`
	Progress            int              `json:"progress"`
	ApprovalRequestedAt *string          `json:"approval_requested_at,omitempty" format:"date-time"`
	ApprovalEscalated   bool             `json:"approval_escalated"`
	EscalationReason    *string          `json:"escalation_reason,omitempty"`
	AmendmentNotes      *string          `json:"amendment_notes,omitempty"`
	ForwardingHistory   []ForwardingStep `json:"forwarding_history"`
	NudgeCount          int              `json:"nudge_count"`
	LastNudgedAt        *string          `json:"last_nudged_at,omitempty" format:"date-time"`
	ClientVisible       bool             `json:"client_visible"`
	CreatedAt           string           `json:"created_at" format:"date-time"`
	UpdatedAt           string           `json:"updated_at" format:"date-time"`
	CompletedAt         *string          `json:"completed_at,omitempty" format:"date-time"`
}

// ForwardingStep records one reassignment of a task.
type ForwardingStep struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	By   string `json:"by"`
	Note string `json:"note,omitempty"`
	At   string `json:"at" format:"date-time"`
}

type Objective struct {
	ID        string  `json:"id"`
	FoundryID string  `json:"foundry_id"`
	Title     string  `json:"title"`
	ParentID  *string `json:"parent_id,omitempty"`
	CreatorID string  `json:"creator_id"`
	Status    string  `json:"status" enum:"active,completed,archived"`
	Progress  float64 `json:"progress"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type TaskAssignee struct {
	TaskID     string  `json:"task_id"`
	ProfileID  string  `json:"profile_id"`
	TeamID     *string `json:"team_id,omitempty"`
	AssignedAt string  `json:"assigned_at" format:"date-time"`
}

type Team struct {
	ID        string   `json:"id"`
	FoundryID string   `json:"foundry_id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type TaskComment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ApprovalDelegation struct {
	ID          string   `json:"id"`
	FoundryID   string   `json:"foundry_id"`
	DelegatorID string   `json:"delegator_id"`
	DelegateID  string   `json:"delegate_id"`
	IsActive    bool     `json:"is_active"`
	StartDate   string   `json:"start_date" format:"date"`
	EndDate     *string  `json:"end_date,omitempty" format:"date"`
	AllTasks    bool     `json:"all_tasks"`
	TaskTypes   []string `json:"task_types"`
	Reason      string   `json:"reason,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

// HistoryEntry is one row of the append-only task audit log.
type HistoryEntry struct {
	ID      int64  `json:"id"`
	TaskID  string `json:"task_id"`
	Action  string `json:"action"`
	Changes string `json:"changes"`
	ActorID string `json:"actor_id"`
	TS      string `json:"ts" format:"date-time"`
}

// EscalationCandidate is a task whose approval has been pending past the timeout.
type EscalationCandidate struct {
	TaskID              string  `json:"task_id"`
	TaskNumber          int64   `json:"task_number"`
	Title               string  `json:"title"`
	Status              Status  `json:"status"`
	ApprovalRequestedAt string  `json:"approval_requested_at" format:"date-time"`
	HoursPending        float64 `json:"hours_pending"`
	Escalated           bool    `json:"approval_escalated"`
}

// AssigneeSuggestion is one ranked candidate from the recommender.
type AssigneeSuggestion struct {
	UserID          string   `json:"user_id"`
	FullName        string   `json:"full_name"`
	Role            Role     `json:"role"`
	Skills          []string `json:"skills"`
	SkillMatchScore float64  `json:"skill_match_score"`
	WorkloadScore   float64  `json:"workload_score"`
	TotalScore      float64  `json:"total_score"`
	MatchReason     string   `json:"match_reason"`
}

type Standup struct {
	ID        string `json:"id"`
	FoundryID string `json:"foundry_id"`
	ProfileID string `json:"profile_id"`
	Date      string `json:"date" format:"date"`
	Yesterday string `json:"yesterday,omitempty"`
	Today     string `json:"today,omitempty"`
	Blockers  string `json:"blockers,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Presence struct {
	FoundryID     string  `json:"foundry_id"`
	ProfileID     string  `json:"profile_id"`
	Status        string  `json:"status" enum:"online,away,busy,offline"`
	StatusMessage *string `json:"status_message,omitempty"`
	Timezone      *string `json:"timezone,omitempty"`
	CurrentTaskID *string `json:"current_task_id,omitempty"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	FoundryID  string `json:"foundry_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PresenceStatuses lists the accepted presence states.
var PresenceStatuses = []string{"online", "away", "busy", "offline"}
