// Package access decides what a principal may do with a document.
package access

import "inkwell/internal/store"

type Role string
type Capability string

const (
	RoleNone   Role = "none"
	RolePublic Role = "public"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

const (
	// CapabilityView reads title and content.
	CapabilityView Capability = "view"
	// CapabilityEdit saves title and content.
	CapabilityEdit Capability = "edit"
	// CapabilityMention notifies users from inside the document.
	CapabilityMention Capability = "mention"
	// CapabilityManage changes visibility, deletes, and grants or revokes shares.
	CapabilityManage Capability = "manage"
)

// Principal is the caller; an empty UserID is an anonymous request.
type Principal struct {
	UserID string
}

func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

// Grant is the caller's SharedAccess row on the document, if any.
type Grant struct {
	CanEdit bool
}

// GrantFrom converts a share row into a Grant.
func GrantFrom(share store.SharedAccess) *Grant {
	return &Grant{CanEdit: share.CanEdit}
}

type Decision struct {
	Allowed bool
	Role    Role
	Reason  string
}

// Resolve picks the strongest role the principal holds on the document.
func Resolve(principal Principal, doc store.Document, grant *Grant) Role {
	switch {
	case !principal.Anonymous() && principal.UserID == doc.AuthorID:
		return RoleOwner
	case !principal.Anonymous() && grant != nil && grant.CanEdit:
		return RoleEditor
	case !principal.Anonymous() && grant != nil:
		return RoleViewer
	case doc.Visibility == store.VisibilityPublic:
		return RolePublic
	default:
		return RoleNone
	}
}

func Can(role Role, capability Capability) bool {
	switch role {
	case RoleOwner:
		return capability == CapabilityView || capability == CapabilityEdit ||
			capability == CapabilityMention || capability == CapabilityManage
	case RoleEditor:
		return capability == CapabilityView || capability == CapabilityEdit || capability == CapabilityMention
	case RoleViewer, RolePublic:
		return capability == CapabilityView
	default:
		return false
	}
}

// Decide is the single authorization predicate every document operation goes through.
func Decide(principal Principal, doc store.Document, grant *Grant, capability Capability) Decision {
	role := Resolve(principal, doc, grant)
	if Can(role, capability) {
		return Decision{Allowed: true, Role: role}
	}
	return Decision{Allowed: false, Role: role, Reason: denyReason(capability)}
}

func denyReason(capability Capability) string {
	switch capability {
	case CapabilityView:
		return "You do not have access to this document"
	case CapabilityEdit:
		return "You do not have permission to edit this document"
	case CapabilityMention:
		return "No permission to mention users"
	case CapabilityManage:
		return "Only the document author can manage this document"
	default:
		return "Forbidden"
	}
}
