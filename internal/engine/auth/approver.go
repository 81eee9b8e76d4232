package auth

import (
	"strings"

	"foundry/internal/domain"
)

// Policy holds the role rules that decide direct approval authority.
type Policy struct {
	ExecutiveRoles    []string
	PeerExcludedRoles []string
	AllowSelfApproval bool
}

// Approver is a profile evaluated for authority; Member is false when the
// profile does not belong to the task's foundry.
type Approver struct {
	ID     string
	Role   domain.Role
	Member bool
}

// TaskSnapshot is the part of a task the resolver looks at.
type TaskSnapshot struct {
	ID         string
	Status     domain.Status
	Type       string
	CreatorID  string
	AssigneeID string
}

func (p Policy) isExecutive(role domain.Role) bool {
	return containsFold(p.ExecutiveRoles, string(role))
}

func (p Policy) peerEligible(role domain.Role) bool {
	return !containsFold(p.PeerExcludedRoles, string(role))
}

// DirectAuthority reports whether a can approve the task's current state
// without relying on a delegation.
func (p Policy) DirectAuthority(task TaskSnapshot, a Approver) bool {
	if !a.Member {
		return false
	}
	switch task.Status {
	case domain.StatusAmendedPendingApproval:
		return a.ID == task.CreatorID || p.isExecutive(a.Role)
	case domain.StatusPendingPeerReview:
		return p.peerEligible(a.Role)
	case domain.StatusPendingExecutiveApproval:
		return p.isExecutive(a.Role)
	default:
		return false
	}
}

// DelegationEffective reports whether d is active and today (YYYY-MM-DD)
// falls inside its date window. An inactive row never counts.
func DelegationEffective(d domain.ApprovalDelegation, today string) bool {
	if !d.IsActive {
		return false
	}
	if today < d.StartDate {
		return false
	}
	if d.EndDate != nil && *d.EndDate != "" && today > *d.EndDate {
		return false
	}
	return true
}

func DelegationCovers(d domain.ApprovalDelegation, taskType string) bool {
	if d.AllTasks {
		return true
	}
	return containsFold(d.TaskTypes, taskType)
}

// approvesOwnTask reports whether a is the task's assignee while self
// approval is off. Such a profile has no authority over the task, neither
// to use directly nor to hand to a delegate.
func (p Policy) approvesOwnTask(task TaskSnapshot, a Approver) bool {
	return !p.AllowSelfApproval && task.AssigneeID != "" && task.AssigneeID == a.ID
}

// CanApprove decides whether user may approve task. delegations are the
// rows naming user as delegate; delegators maps each delegator id to its
// profile. Authority flows one hop only: a delegator's own delegated
// authority is not consulted.
func (p Policy) CanApprove(task TaskSnapshot, user Approver, delegations []domain.ApprovalDelegation, delegators map[string]Approver, today string) bool {
	if !task.Status.PendingApproval() || !user.Member {
		return false
	}
	if p.approvesOwnTask(task, user) {
		return false
	}
	if p.DirectAuthority(task, user) {
		return true
	}
	for _, d := range delegations {
		if d.DelegateID != user.ID || !DelegationEffective(d, today) || !DelegationCovers(d, task.Type) {
			continue
		}
		delegator, ok := delegators[d.DelegatorID]
		if !ok || p.approvesOwnTask(task, delegator) {
			continue
		}
		if p.DirectAuthority(task, delegator) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
