package xccdf

import "strings"

// ProfilePrefix is the XCCDF id prefix of ComplianceAsCode profiles.
const ProfilePrefix = "xccdf_org.ssgproject.content_profile_"

// Profile is a selectable benchmark profile.
type Profile struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ShortID strips the ComplianceAsCode prefix, e.g. "stig".
func (p Profile) ShortID() string {
	return strings.TrimPrefix(p.ID, ProfilePrefix)
}

// ParseProfiles lists the Profile elements of a datastream or benchmark.
// Duplicate ids (a datastream may embed several benchmark copies) are
// reported once. Unreadable documents yield nil.
func ParseProfiles(path string) []Profile {
	root, err := parseFile(path)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []Profile
	for _, p := range root.findAll("Profile") {
		id := p.attr("id")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title := p.child("title").text()
		if title == "" {
			title = id
		}
		out = append(out, Profile{
			ID:          id,
			Title:       title,
			Description: p.child("description").text(),
		})
	}
	return out
}
