package store

import (
	"fmt"
	"strings"

	"sdlcboard/api/internal/workflow"
)

const (
	anonymousAuthor = "Anonymous User"
	anonymousEmail  = "anonymous@team.com"
)

// AuthorOf names who made the latest change to doc: the newest change
// record first, then the lastModifiedBy stamp.
func AuthorOf(doc *workflow.Document) string {
	if last, ok := lastChange(doc); ok {
		if name := strings.TrimSpace(last.UserName); name != "" {
			return name
		}
		if user := strings.TrimSpace(last.User); user != "" {
			return user
		}
	}
	if doc == nil || doc.Metadata == nil {
		return anonymousAuthor
	}
	if name := strings.TrimSpace(doc.Metadata.LastModifiedByName); name != "" {
		return name
	}
	if user := strings.TrimSpace(doc.Metadata.LastModifiedBy); user != "" {
		return user
	}
	return anonymousAuthor
}

// AuthorEmail returns the email of the latest author, or the shared
// anonymous address.
func AuthorEmail(doc *workflow.Document) string {
	candidates := []string{}
	if last, ok := lastChange(doc); ok {
		candidates = append(candidates, last.User)
	}
	if doc != nil && doc.Metadata != nil {
		candidates = append(candidates, doc.Metadata.LastModifiedBy)
	}
	for _, candidate := range candidates {
		if candidate = strings.TrimSpace(candidate); strings.Contains(candidate, "@") {
			return candidate
		}
	}
	return anonymousEmail
}

// CommitMessage describes a save. The newest change record names the
// author when there is one; otherwise the save time is used.
func CommitMessage(doc *workflow.Document) string {
	if last, ok := lastChange(doc); ok && strings.TrimSpace(last.User) != "" {
		return fmt.Sprintf("Update SDLC workflow data by %s (%s)", AuthorOf(doc), AuthorEmail(doc))
	}
	if doc != nil && doc.Metadata != nil && !doc.Metadata.LastModified.IsZero() {
		return fmt.Sprintf("Update SDLC workflow data - %s", workflow.FormatTimestamp(doc.Metadata.LastModified))
	}
	return "Update SDLC workflow data"
}

func lastChange(doc *workflow.Document) (workflow.ChangeRecord, bool) {
	if doc == nil || doc.Metadata == nil || len(doc.Metadata.ChangeHistory) == 0 {
		return workflow.ChangeRecord{}, false
	}
	return doc.Metadata.ChangeHistory[len(doc.Metadata.ChangeHistory)-1], true
}
