// Package access is the single authorization predicate of the consultation
// engine. Evaluate is pure: it reads nothing but its arguments, so every
// service can call it before each read and transition and get the same
// verdict for the same inputs.
package access

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/platform/apperror"
)

type Role string

const (
	RoleCHW    Role = "chw"
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCHW, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the resolved identity performing an operation.
type Actor struct {
	ID       uuid.UUID `json:"id"`
	Role     Role      `json:"role"`
	IsActive bool      `json:"is_active"`
}

type Action string

const (
	ActionEncounterCreate Action = "encounter.create"
	ActionEncounterRead   Action = "encounter.read"
	ActionEncounterUpdate Action = "encounter.update"

	ActionConsultationCreate   Action = "consultation.create"
	ActionConsultationRead     Action = "consultation.read"
	ActionConsultationAssign   Action = "consultation.assign"
	ActionConsultationStart    Action = "consultation.start"
	ActionConsultationComplete Action = "consultation.complete"
	ActionConsultationCancel   Action = "consultation.cancel"
	ActionConsultationPriority Action = "consultation.update_priority"
	ActionPendingPoolRead      Action = "consultation.pending_pool.read"

	ActionMessageSend     Action = "message.send"
	ActionMessageRead     Action = "message.read"
	ActionMessageEdit     Action = "message.edit"
	ActionMessageDelete   Action = "message.delete"
	ActionMessageMarkRead Action = "message.mark_read"
	ActionMessageSystem   Action = "message.system"

	ActionStatsRead Action = "stats.read"

	ActionUserRead   Action = "user.read"
	ActionUserUpdate Action = "user.update"
	ActionUserAdmin  Action = "user.admin"

	ActionNotificationRead Action = "notification.read"
)

// doctorOnly lists actions a chw may never perform even on its own records.
var doctorOnly = map[Action]bool{
	ActionConsultationAssign:   true,
	ActionConsultationStart:    true,
	ActionConsultationComplete: true,
}

// chwOnly lists actions a doctor may never perform even when assigned.
var chwOnly = map[Action]bool{
	ActionEncounterCreate:    true,
	ActionEncounterUpdate:    true,
	ActionConsultationCreate: true,
}

// ownerOnly actions apply to user-owned records (profiles, notifications)
// and are decided by OwnerID rather than the chw/doctor fields.
var ownerOnly = map[Action]bool{
	ActionUserRead:         true,
	ActionUserUpdate:       true,
	ActionNotificationRead: true,
}

// Resource carries the ownership fields of the record an action targets.
// For list queries it describes the requested scope.
type Resource struct {
	Type     string
	ChwID    uuid.UUID
	DoctorID uuid.UUID
	OwnerID  uuid.UUID
	Status   string

	// Messaging: the sender and recipient of the message being acted on.
	SenderID    uuid.UUID
	RecipientID uuid.UUID
}

// Rule names the rule that produced a Decision.
type Rule string

const (
	RuleInactive    Rule = "inactive"
	RuleAdmin       Rule = "admin"
	RuleOwnership   Rule = "ownership"
	RulePendingPool Rule = "pending_pool"
	RuleOwner       Rule = "owner"
	RuleMessaging   Rule = "messaging"
	RuleRecipient   Rule = "messaging_recipient"
	RuleDefault     Rule = "default_deny"
)

type Decision struct {
	Allowed bool
	Rule    Rule
	Reason  string
}

// Err converts a denial into the matching error. Allowed decisions return nil.
// A participant addressing themselves or an outsider is a precondition
// failure rather than a permission failure.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Rule == RuleRecipient {
		return apperror.StateConflict("%s", d.Reason)
	}
	return apperror.Forbidden("%s", d.Reason)
}

func allow(rule Rule) Decision {
	return Decision{Allowed: true, Rule: rule}
}

func deny(rule Rule, format string, args ...interface{}) Decision {
	return Decision{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate applies the rules in order; the first rule that matches decides.
//
//  1. inactive actors are denied everything
//  2. admins are allowed everything
//  3. chw/doctor ownership, plus doctor read access to the pending pool
//  4. messaging between the two participants of a consultation
//  5. anything else is denied
func Evaluate(actor Actor, action Action, res Resource) Decision {
	if !actor.IsActive {
		return deny(RuleInactive, "user %s is inactive", actor.ID)
	}
	if actor.Role == RoleAdmin {
		return allow(RuleAdmin)
	}

	if ownerOnly[action] {
		if res.OwnerID != uuid.Nil && res.OwnerID == actor.ID {
			return allow(RuleOwner)
		}
		return deny(RuleOwner, "%s is restricted to the owner", action)
	}

	if isMessaging(action) {
		return evaluateMessaging(actor, action, res)
	}

	switch actor.Role {
	case RoleCHW:
		if doctorOnly[action] {
			return deny(RuleOwnership, "%s requires a doctor", action)
		}
		if res.ChwID != uuid.Nil && res.ChwID == actor.ID {
			return allow(RuleOwnership)
		}
		return deny(RuleOwnership, "%s on a record owned by another chw", action)
	case RoleDoctor:
		if chwOnly[action] {
			return deny(RuleOwnership, "%s requires a chw", action)
		}
		if res.DoctorID != uuid.Nil && res.DoctorID == actor.ID {
			return allow(RuleOwnership)
		}
		if isPoolRead(action) && res.Status == "requested" {
			return allow(RulePendingPool)
		}
		return deny(RuleOwnership, "%s on a record not assigned to this doctor", action)
	}

	return deny(RuleDefault, "no rule permits %s for role %q", action, actor.Role)
}

// Check is Evaluate followed by Decision.Err.
func Check(actor Actor, action Action, res Resource) error {
	return Evaluate(actor, action, res).Err()
}

func isPoolRead(action Action) bool {
	return action == ActionPendingPoolRead || action == ActionConsultationRead || action == ActionEncounterRead
}

func isMessaging(action Action) bool {
	switch action {
	case ActionMessageSend, ActionMessageRead, ActionMessageEdit,
		ActionMessageDelete, ActionMessageMarkRead, ActionMessageSystem:
		return true
	}
	return false
}

func isParticipant(id uuid.UUID, res Resource) bool {
	return id != uuid.Nil && (id == res.ChwID || id == res.DoctorID)
}

func evaluateMessaging(actor Actor, action Action, res Resource) Decision {
	if action == ActionMessageSystem {
		return deny(RuleMessaging, "system messages are admin only")
	}
	if !isParticipant(actor.ID, res) {
		return deny(RuleMessaging, "user %s is not a participant of this consultation", actor.ID)
	}

	switch action {
	case ActionMessageSend:
		if res.RecipientID == actor.ID {
			return deny(RuleRecipient, "cannot send a message to yourself")
		}
		if !isParticipant(res.RecipientID, res) {
			return deny(RuleRecipient, "recipient %s is not a participant of this consultation", res.RecipientID)
		}
		return allow(RuleMessaging)
	case ActionMessageEdit, ActionMessageDelete:
		if res.SenderID != actor.ID {
			return deny(RuleMessaging, "only the sender may modify a message")
		}
		return allow(RuleMessaging)
	case ActionMessageMarkRead:
		if res.RecipientID != actor.ID {
			return deny(RuleMessaging, "only the recipient may mark a message read")
		}
		return allow(RuleMessaging)
	default:
		return allow(RuleMessaging)
	}
}

// Guard wraps Evaluate with an optional observer for denials, used for
// metrics and debug logging. The zero Guard is ready to use.
type Guard struct {
	OnDeny func(actor Actor, action Action, d Decision)
}

func (g Guard) Check(actor Actor, action Action, res Resource) error {
	d := Evaluate(actor, action, res)
	if !d.Allowed && g.OnDeny != nil {
		g.OnDeny(actor, action, d)
	}
	return d.Err()
}
