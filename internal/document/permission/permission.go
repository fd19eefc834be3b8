// Package permission decides what an actor may do with a document.
package permission

import "naskah/internal/document/model"

// Evaluate reports whether actorID holds want on doc. Rules, first match wins:
// the owner may do anything, a public document is readable by everyone, and
// otherwise the actor's granted level must be at least want.
//
// Evaluate has no side effects and takes no locks.
func Evaluate(doc *model.Document, actorID string, want model.Capability) bool {
	if doc == nil {
		return false
	}
	if want == model.CapNone {
		return true
	}
	if actorID != "" && actorID == doc.OwnerID {
		return true
	}
	if doc.IsPublic && want == model.CapRead {
		return true
	}
	return Level(doc, actorID) >= want
}

// Level returns the effective capability of actorID on doc.
func Level(doc *model.Document, actorID string) model.Capability {
	if doc == nil {
		return model.CapNone
	}
	if actorID != "" && actorID == doc.OwnerID {
		return model.CapEdit
	}
	granted := doc.Permissions[actorID]
	if doc.IsPublic && granted < model.CapRead {
		return model.CapRead
	}
	return granted
}
