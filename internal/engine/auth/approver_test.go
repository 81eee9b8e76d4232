package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"foundry/internal/domain"
)

var testPolicy = Policy{
	ExecutiveRoles:    []string{"Executive", "Founder"},
	PeerExcludedRoles: []string{"AI_Agent"},
}

func strPtr(s string) *string { return &s }

func TestDirectAuthorityByState(t *testing.T) {
	exec := Approver{ID: "exec", Role: domain.RoleExecutive, Member: true}
	appr := Approver{ID: "appr", Role: domain.RoleApprentice, Member: true}
	bot := Approver{ID: "bot", Role: domain.RoleAIAgent, Member: true}
	creator := Approver{ID: "creator", Role: domain.RoleApprentice, Member: true}

	cases := []struct {
		status domain.Status
		who    Approver
		want   bool
	}{
		{domain.StatusAmendedPendingApproval, creator, true},
		{domain.StatusAmendedPendingApproval, exec, true},
		{domain.StatusAmendedPendingApproval, appr, false},
		{domain.StatusPendingPeerReview, appr, true},
		{domain.StatusPendingPeerReview, bot, false},
		{domain.StatusPendingExecutiveApproval, exec, true},
		{domain.StatusPendingExecutiveApproval, appr, false},
		{domain.StatusAccepted, exec, false},
	}
	for _, tc := range cases {
		task := TaskSnapshot{ID: "t", Status: tc.status, CreatorID: "creator", AssigneeID: "worker"}
		assert.Equal(t, tc.want, testPolicy.DirectAuthority(task, tc.who), "%s/%s", tc.status, tc.who.ID)
	}
}

func TestNonMemberNeverApproves(t *testing.T) {
	task := TaskSnapshot{Status: domain.StatusPendingExecutiveApproval, AssigneeID: "worker"}
	outsider := Approver{ID: "x", Role: domain.RoleFounder}
	assert.False(t, testPolicy.CanApprove(task, outsider, nil, nil, "2024-03-01"))
}

func TestAssigneeCannotApproveOwnTask(t *testing.T) {
	task := TaskSnapshot{Status: domain.StatusPendingExecutiveApproval, AssigneeID: "boss"}
	boss := Approver{ID: "boss", Role: domain.RoleExecutive, Member: true}
	assert.False(t, testPolicy.CanApprove(task, boss, nil, nil, "2024-03-01"))

	self := testPolicy
	self.AllowSelfApproval = true
	assert.True(t, self.CanApprove(task, boss, nil, nil, "2024-03-01"))
}

func TestDelegatedAuthority(t *testing.T) {
	task := TaskSnapshot{Status: domain.StatusPendingExecutiveApproval, Type: "finance", AssigneeID: "worker"}
	user := Approver{ID: "appr", Role: domain.RoleApprentice, Member: true}
	delegators := map[string]Approver{
		"exec":  {ID: "exec", Role: domain.RoleExecutive, Member: true},
		"peer":  {ID: "peer", Role: domain.RoleApprentice, Member: true},
		"other": {ID: "other", Role: domain.RoleApprentice, Member: true},
	}
	base := domain.ApprovalDelegation{DelegatorID: "exec", DelegateID: "appr", IsActive: true, StartDate: "2024-02-01", AllTasks: true}

	assert.True(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{base}, delegators, "2024-03-01"))

	inactive := base
	inactive.IsActive = false
	assert.False(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{inactive}, delegators, "2024-03-01"))

	expired := base
	expired.EndDate = strPtr("2024-02-15")
	assert.False(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{expired}, delegators, "2024-03-01"))

	future := base
	future.StartDate = "2024-04-01"
	assert.False(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{future}, delegators, "2024-03-01"))

	scoped := base
	scoped.AllTasks = false
	scoped.TaskTypes = []string{"legal"}
	assert.False(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{scoped}, delegators, "2024-03-01"))
	scoped.TaskTypes = []string{"legal", "Finance"}
	assert.True(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{scoped}, delegators, "2024-03-01"))

	// A delegator without authority contributes nothing; any valid row suffices.
	weak := base
	weak.DelegatorID = "peer"
	assert.False(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{weak}, delegators, "2024-03-01"))
	assert.True(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{weak, base}, delegators, "2024-03-01"))
}

func TestAssigneeCannotDelegateOwnApproval(t *testing.T) {
	task := TaskSnapshot{Status: domain.StatusPendingExecutiveApproval, AssigneeID: "boss"}
	user := Approver{ID: "appr", Role: domain.RoleApprentice, Member: true}
	delegators := map[string]Approver{
		"boss": {ID: "boss", Role: domain.RoleExecutive, Member: true},
		"exec": {ID: "exec", Role: domain.RoleExecutive, Member: true},
	}
	fromAssignee := domain.ApprovalDelegation{DelegatorID: "boss", DelegateID: "appr", IsActive: true, StartDate: "2024-02-01", AllTasks: true}

	assert.False(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{fromAssignee}, delegators, "2024-03-01"))

	// another executive's delegation still counts
	fromExec := fromAssignee
	fromExec.DelegatorID = "exec"
	assert.True(t, testPolicy.CanApprove(task, user, []domain.ApprovalDelegation{fromAssignee, fromExec}, delegators, "2024-03-01"))

	self := testPolicy
	self.AllowSelfApproval = true
	assert.True(t, self.CanApprove(task, user, []domain.ApprovalDelegation{fromAssignee}, delegators, "2024-03-01"))
}

func TestInactiveDelegationIgnoresDates(t *testing.T) {
	d := domain.ApprovalDelegation{IsActive: false, StartDate: "2000-01-01", EndDate: strPtr("2999-12-31"), AllTasks: true}
	for _, today := range []string{"2000-01-01", "2024-06-30", "2999-12-31"} {
		assert.False(t, DelegationEffective(d, today), today)
	}
}

func TestDelegationWindowInclusive(t *testing.T) {
	d := domain.ApprovalDelegation{IsActive: true, StartDate: "2024-03-01", EndDate: strPtr("2024-03-10")}
	assert.True(t, DelegationEffective(d, "2024-03-01"))
	assert.True(t, DelegationEffective(d, "2024-03-10"))
	assert.False(t, DelegationEffective(d, "2024-03-11"))
	d.EndDate = nil
	assert.True(t, DelegationEffective(d, "2099-01-01"))
}
