package server

import (
	"foundry/internal/domain"
)

// Request payloads

type CreateFoundryRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConfigDocument struct {
	YAML string `json:"yaml" doc:"foundry.yml content"`
}

type CreateProfileRequest struct {
	ID            string   `json:"id,omitempty"`
	FullName      string   `json:"full_name"`
	Kind          string   `json:"kind,omitempty" enum:"person,ai_agent"`
	Role          string   `json:"role" enum:"Executive,Apprentice,AI_Agent,Founder"`
	Skills        []string `json:"skills,omitempty"`
	CapacityScore float64  `json:"capacity_score,omitempty"`
}

type AddMemberRequest struct {
	ProfileID string `json:"profile_id"`
}

type CreateTeamRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateTaskRequest struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Type          string `json:"type,omitempty"`
	RiskLevel     string `json:"risk_level,omitempty" enum:"Low,Medium,High"`
	AssigneeID    string `json:"assignee_id,omitempty"`
	ObjectiveID   string `json:"objective_id,omitempty"`
	ClientVisible bool   `json:"client_visible,omitempty"`
}

type UpdateTaskRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Type          *string `json:"type,omitempty"`
	RiskLevel     *string `json:"risk_level,omitempty" enum:"Low,Medium,High"`
	AssigneeID    *string `json:"assignee_id,omitempty" doc:"empty string unassigns"`
	ObjectiveID   *string `json:"objective_id,omitempty" doc:"empty string detaches"`
	Progress      *int    `json:"progress,omitempty" minimum:"0" maximum:"100"`
	ClientVisible *bool   `json:"client_visible,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AmendRequest struct {
	Notes string `json:"notes"`
}

type DecisionRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note,omitempty"`
}

type BatchDecisionRequest struct {
	TaskIDs []string `json:"task_ids" minItems:"1"`
	Approve bool     `json:"approve"`
	Note    string   `json:"note,omitempty"`
}

type ForwardRequest struct {
	To   string `json:"to"`
	Note string `json:"note,omitempty"`
}

type AddAssigneeRequest struct {
	ProfileID string `json:"profile_id"`
	TeamID    string `json:"team_id,omitempty"`
}

type CommentRequest struct {
	Body string `json:"body"`
}

type CreateObjectiveRequest struct {
	Title    string `json:"title"`
	ParentID string `json:"parent_id,omitempty"`
}

type SetParentRequest struct {
	ParentID string `json:"parent_id" doc:"empty string moves the objective to the root"`
}

type CreateDelegationRequest struct {
	DelegatorID string   `json:"delegator_id,omitempty" doc:"defaults to the caller"`
	DelegateID  string   `json:"delegate_id"`
	StartDate   string   `json:"start_date,omitempty" format:"date"`
	EndDate     string   `json:"end_date,omitempty" format:"date"`
	AllTasks    bool     `json:"all_tasks,omitempty"`
	TaskTypes   []string `json:"task_types,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

type SuggestRequest struct {
	RequiredSkills  []string `json:"required_skills,omitempty"`
	PreferredSkills []string `json:"preferred_skills,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
	Limit           int      `json:"limit,omitempty"`
}

type StandupRequest struct {
	Date      string `json:"date,omitempty" format:"date"`
	Yesterday string `json:"yesterday,omitempty"`
	Today     string `json:"today,omitempty"`
	Blockers  string `json:"blockers,omitempty"`
}

type PresenceRequest struct {
	Status        string  `json:"status" enum:"online,away,busy,offline"`
	StatusMessage *string `json:"status_message,omitempty"`
	Timezone      *string `json:"timezone,omitempty"`
	CurrentTaskID *string `json:"current_task_id,omitempty"`
}

type DevLoginRequest struct {
	ProfileID   string   `json:"profile_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type MeResponse struct {
	ProfileID   string          `json:"profile_id"`
	Source      string          `json:"source"`
	Permissions []string        `json:"permissions"`
	Profile     *domain.Profile `json:"profile,omitempty"`
}

type PermissionsResponse struct {
	ProfileID   string      `json:"profile_id"`
	Role        domain.Role `json:"role"`
	Permissions []string    `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	Key    string        `json:"key" doc:"shown once"`
	APIKey domain.APIKey `json:"api_key"`
}

type CanApproveResponse struct {
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	CanApprove bool  `json:"can_approve"`
}

type WorkloadResponse struct {
	ProfileID     string  `json:"profile_id"`
	WorkloadScore float64 `json:"workload_score"`
}

type StandupResponse struct {
	Standup *domain.Standup `json:"standup"`
}

type FoundryList struct {
	Items []domain.Foundry `json:"items"`
}

type MemberList struct {
	Items []domain.Member `json:"items"`
}

type TeamList struct {
	Items []domain.Team `json:"items"`
}

type APIKeyList struct {
	Items []domain.APIKey `json:"items"`
}

type TaskList struct {
	Items []domain.Task `json:"items"`
}

type HistoryList struct {
	Items []domain.HistoryEntry `json:"items"`
}

type CommentList struct {
	Items []domain.TaskComment `json:"items"`
}

type AssigneeList struct {
	Items []domain.TaskAssignee `json:"items"`
}

type ObjectiveList struct {
	Items []domain.Objective `json:"items"`
}

type DelegationList struct {
	Items []domain.ApprovalDelegation `json:"items"`
}

type EscalationList struct {
	TimeoutHours float64                      `json:"timeout_hours"`
	Items        []domain.EscalationCandidate `json:"items"`
}

type SuggestionList struct {
	Items []domain.AssigneeSuggestion `json:"items"`
}

type StandupList struct {
	Items []domain.Standup `json:"items"`
}

type PresenceList struct {
	Items []domain.Presence `json:"items"`
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
