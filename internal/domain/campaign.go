/**
 * @description
 * This file defines the campaign model and its status state machine. The transition
 * table here is the single source of truth for which status changes are legal; the
 * lifecycle manager in internal/app consults it before every write.
 *
 * @dependencies
 * - github.com/google/uuid: Campaign, owner, and registration identifiers.
 * - github.com/shopspring/decimal: Goal and raised amounts.
 */
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusPending  CampaignStatus = "PENDING"
	CampaignStatusActive   CampaignStatus = "ACTIVE"
	CampaignStatusClosed   CampaignStatus = "CLOSED"
	CampaignStatusCanceled CampaignStatus = "CANCELED"
	CampaignStatusDeleted  CampaignStatus = "DELETED"
)

// campaignTransitions lists, for each status, the statuses it may move to.
// CLOSED, CANCELED and DELETED are terminal and therefore absent.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusPending: {CampaignStatusActive, CampaignStatusDeleted},
	CampaignStatusActive: {
		CampaignStatusPending,
		CampaignStatusClosed,
		CampaignStatusCanceled,
		CampaignStatusDeleted,
	},
}

// ParseCampaignStatus validates a raw status string.
func ParseCampaignStatus(raw string) (CampaignStatus, error) {
	status := CampaignStatus(raw)
	switch status {
	case CampaignStatusPending, CampaignStatusActive, CampaignStatusClosed, CampaignStatusCanceled, CampaignStatusDeleted:
		return status, nil
	}
	return "", fmt.Errorf("unknown campaign status %q", raw)
}

// IsTerminal reports whether no transition leaves this status.
func (s CampaignStatus) IsTerminal() bool {
	return len(campaignTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into target.
func SourcesFor(target CampaignStatus) []CampaignStatus {
	var sources []CampaignStatus
	for from, targets := range campaignTransitions {
		for _, to := range targets {
			if to == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// OwnerKind distinguishes the two kinds of actor that can own a campaign.
type OwnerKind string

const (
	OwnerKindUser  OwnerKind = "USER"
	OwnerKindAgent OwnerKind = "AGENT"
)

// Owner is either a registered user or an agent acting on someone's behalf.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// UserOwner builds an Owner for a registered user.
func UserOwner(id uuid.UUID) Owner { return Owner{Kind: OwnerKindUser, ID: id} }

// AgentOwner builds an Owner for an agent.
func AgentOwner(id uuid.UUID) Owner { return Owner{Kind: OwnerKindAgent, ID: id} }

// OwnerFromColumns resolves the mutually exclusive user_id / agent_id columns.
func OwnerFromColumns(userID, agentID *uuid.UUID) (Owner, error) {
	switch {
	case userID != nil && agentID != nil:
		return Owner{}, fmt.Errorf("campaign has both a user and an agent owner")
	case userID != nil:
		return UserOwner(*userID), nil
	case agentID != nil:
		return AgentOwner(*agentID), nil
	default:
		return Owner{}, fmt.Errorf("campaign has no owner")
	}
}

// Matches reports whether the given actor is this owner.
func (o Owner) Matches(kind OwnerKind, id uuid.UUID) bool {
	return o.Kind == kind && o.ID == id
}

// RegistrationKind is the type of record a campaign was registered under.
type RegistrationKind string

const (
	RegistrationBusiness RegistrationKind = "BUSINESS"
	RegistrationCharity  RegistrationKind = "CHARITY"
)

// Registration points at the business or charity record behind a campaign.
type Registration struct {
	Kind RegistrationKind `json:"kind"`
	ID   uuid.UUID        `json:"id"`
}

// RegistrationFromColumns resolves the mutually exclusive business_id / charity_id columns.
func RegistrationFromColumns(businessID, charityID *uuid.UUID) (Registration, error) {
	switch {
	case businessID != nil && charityID != nil:
		return Registration{}, fmt.Errorf("campaign has both a business and a charity registration")
	case businessID != nil:
		return Registration{Kind: RegistrationBusiness, ID: *businessID}, nil
	case charityID != nil:
		return Registration{Kind: RegistrationCharity, ID: *charityID}, nil
	default:
		return Registration{}, fmt.Errorf("campaign has no registration")
	}
}

// Campaign is a fundraising effort with a goal and a deadline.
type Campaign struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	GoalAmount   decimal.Decimal `json:"goalAmount"`
	GoalCurrency Currency        `json:"goalCurrency"`
	Raised       Ledger          `json:"raised"`
	Deadline     time.Time       `json:"deadline"`
	Status       CampaignStatus  `json:"status"`
	Owner        Owner           `json:"owner"`
	Registration Registration    `json:"registration"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`

	CloseCodeHash       *string    `json:"-"`
	CloseCodeExpiresAt  *time.Time `json:"-"`
	CloseCodeVerifiedAt *time.Time `json:"-"`
}

// DeadlinePassed reports whether the deadline is at or before now.
func (c Campaign) DeadlinePassed(now time.Time) bool {
	return !c.Deadline.After(now)
}

// Closure reasons written by the system.
const (
	ClosureReasonDeadlineMet = "Deadline met"
	ClosureReasonGoalMet     = "Target Goal met"
)

// ClosedCampaign is the audit record written once when a campaign closes or is canceled.
type ClosedCampaign struct {
	ID          uuid.UUID `json:"id"`
	CampaignID  uuid.UUID `json:"campaignId"`
	Reason      string    `json:"reason"`
	IsCompleted bool      `json:"isCompleted"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CampaignListOptions filters the public campaign listing.
type CampaignListOptions struct {
	Status   CampaignStatus
	Category string
	Limit    int
	Offset   int
}
