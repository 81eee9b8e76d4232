package domain

import (
	"fmt"
	"strings"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending                  Status = "Pending"
	StatusAccepted                 Status = "Accepted"
	StatusRejected                 Status = "Rejected"
	StatusAmended                  Status = "Amended"
	StatusAmendedPendingApproval   Status = "Amended_Pending_Approval"
	StatusCompleted                Status = "Completed"
	StatusPendingPeerReview        Status = "Pending_Peer_Review"
	StatusPendingExecutiveApproval Status = "Pending_Executive_Approval"
)

// Statuses lists every valid task status.
var Statuses = []Status{
	StatusPending,
	StatusAccepted,
	StatusRejected,
	StatusAmended,
	StatusAmendedPendingApproval,
	StatusCompleted,
	StatusPendingPeerReview,
	StatusPendingExecutiveApproval,
}

// PendingApprovalStatuses are the states in which a task waits on an approver.
var PendingApprovalStatuses = []Status{
	StatusAmendedPendingApproval,
	StatusPendingPeerReview,
	StatusPendingExecutiveApproval,
}

var transitions = map[Status][]Status{
	StatusPending:                  {StatusAccepted, StatusRejected},
	StatusAccepted:                 {StatusAmended, StatusPendingPeerReview},
	StatusAmended:                  {StatusAmendedPendingApproval, StatusPendingPeerReview},
	StatusAmendedPendingApproval:   {StatusAccepted, StatusRejected},
	StatusPendingPeerReview:        {StatusPendingExecutiveApproval, StatusCompleted, StatusRejected},
	StatusPendingExecutiveApproval: {StatusCompleted, StatusRejected},
}

// ParseStatus accepts the canonical name case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", s)
}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

func (s Status) PendingApproval() bool {
	for _, st := range PendingApprovalStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// InProgress reports whether work on the task may be submitted for review.
func (s Status) InProgress() bool {
	return s == StatusAccepted || s == StatusAmended
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RiskLevel grades how much scrutiny a task needs.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid risk level %q", s)
}

// Role is a profile's organisational role.
type Role string

const (
	RoleExecutive  Role = "Executive"
	RoleApprentice Role = "Apprentice"
	RoleAIAgent    Role = "AI_Agent"
	RoleFounder    Role = "Founder"
)

var Roles = []Role{RoleExecutive, RoleApprentice, RoleAIAgent, RoleFounder}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", s)
}
