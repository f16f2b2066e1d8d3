// Package ident provides identifier generation and owner-URI synthesis.
//
// Every live session is tracked under a string resource identifier (the
// "owner URI"). Default, non-editor-bound sessions get a synthesized URI of
// the form <purpose>://<identity>, where the purpose segment keeps plain
// connections, dashboards, and insights views on independent sessions
// against the same server. Editor-bound sessions reuse the editor's own
// document identifier and are never re-keyed.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// Purpose distinguishes independent session kinds for the same server.
type Purpose string

const (
	PurposeConnection Purpose = "connection"
	PurposeDashboard  Purpose = "dashboard"
	PurposeInsights   Purpose = "insights"
)

var defaultPurposes = []Purpose{PurposeConnection, PurposeDashboard, PurposeInsights}

// NewGUID returns a fresh random GUID string.
func NewGUID() string {
	return uuid.NewString()
}

// URI synthesizes a default owner URI for the given purpose and identity.
func URI(purpose Purpose, identity string) string {
	return string(purpose) + "://" + identity
}

// IsDefaultURI reports whether uri carries one of the synthesized purpose
// prefixes. Only default URIs are eligible for definitive-id promotion
// after their profile is first saved; any other identifier is treated as a
// fixed editor-bound document id.
func IsDefaultURI(uri string) bool {
	_, ok := DefaultPurpose(uri)
	return ok
}

// DefaultPurpose returns the purpose segment of a default URI.
func DefaultPurpose(uri string) (Purpose, bool) {
	for _, p := range defaultPurposes {
		if strings.HasPrefix(uri, string(p)+"://") {
			return p, true
		}
	}
	return "", false
}
