package workflow

import (
	"strings"

	"github.com/ballggwp/eclaim/internal/claim/entity"
)

// Actor is the authenticated caller of every workflow operation.
type Actor struct {
	ID             string
	EmployeeNumber string
	Name           string
	Email          string
	Role           entity.Role
}

// Matches reports whether id refers to this actor, by user id or employee number.
func (a Actor) Matches(id string) bool {
	if id == "" {
		return false
	}
	return id == a.ID || (a.EmployeeNumber != "" && id == a.EmployeeNumber)
}

// IsCreator reports whether the actor filed the claim. Claims imported without a
// creator id fall back to name matching.
func (a Actor) IsCreator(c *entity.Claim) bool {
	if c.CreatedByID != "" {
		return a.Matches(c.CreatedByID)
	}
	return a.Name != "" && strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(c.CreatedByName))
}

// IsApprover reports whether the actor is the claim's designated approver.
func (a Actor) IsApprover(c *entity.Claim) bool {
	return a.Matches(c.ApproverID)
}

// Party is who an edge of the transition table belongs to.
type Party string

const (
	PartyCreator  Party = "creator"
	PartyApprover Party = "approver"
	PartyInsurer  Party = "insurer"
	PartyManager  Party = "manager"
	PartyUser     Party = "user"
)

// plays reports whether the actor acts as party p on claim c.
func (a Actor) plays(p Party, c *entity.Claim) bool {
	switch p {
	case PartyCreator:
		return a.IsCreator(c)
	case PartyApprover:
		return a.IsApprover(c)
	case PartyInsurer:
		return a.Role == entity.RoleInsurance
	case PartyManager:
		return a.Role == entity.RoleManager
	case PartyUser:
		return a.Role == entity.RoleUser && a.IsCreator(c)
	}
	return false
}
