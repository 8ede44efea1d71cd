package content

import (
	"slices"
	"sort"

	"github.com/exploopio/streamguard/pkg/xccdf"
)

// Sentinel versions recorded in the index.
const (
	VersionLocal   = "local"
	VersionUnknown = "unknown"
)

// staticProducts is used when the live product list is unavailable.
var staticProducts = []string{
	"debian11", "debian12",
	"fedora",
	"rhel7", "rhel8", "rhel9",
	"ubuntu2004", "ubuntu2204", "ubuntu2404",
}

// families maps a family alias to its products, in resolution order.
var families = map[string][]string{
	"rhel":   {"rhel7", "rhel8", "rhel9"},
	"fedora": {"fedora"},
	"ubuntu": {"ubuntu2004", "ubuntu2204", "ubuntu2404"},
	"debian": {"debian11", "debian12"},
}

// builtinProfiles is the last rung of the profile ladder.
var builtinProfiles = map[string][]string{
	"rhel":   {"stig", "cis", "ospp", "pci-dss"},
	"fedora": {"standard", "ospp"},
	"ubuntu": {"stig", "standard", "cis_level1_server"},
	"debian": {"standard"},
}

// StaticProducts returns the built-in supported product list.
func StaticProducts() []string {
	return slices.Clone(staticProducts)
}

// Families returns the known family aliases, sorted.
func Families() []string {
	out := make([]string, 0, len(families))
	for f := range families {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// expandDistro maps distro to products given the supported set. A supported
// product maps to itself; a family maps to its supported members. ok is
// false when distro is neither.
func expandDistro(distro string, supported map[string]bool) (products []string, ok bool) {
	if supported[distro] {
		return []string{distro}, true
	}
	members, isFamily := families[distro]
	if !isFamily {
		return nil, false
	}
	for _, p := range members {
		if supported[p] {
			products = append(products, p)
		}
	}
	return products, true
}

// familyOf returns the family a distro or product belongs to.
func familyOf(distro string) string {
	if _, ok := families[distro]; ok {
		return distro
	}
	for family, members := range families {
		if slices.Contains(members, distro) {
			return family
		}
	}
	return ""
}

func builtinProfilesFor(distro string) []ProfileInfo {
	names := builtinProfiles[familyOf(distro)]
	out := make([]ProfileInfo, 0, len(names))
	for _, name := range names {
		out = append(out, ProfileInfo{ID: xccdf.ProfilePrefix + name, Title: name})
	}
	return out
}

func toSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, v := range list {
			set[v] = true
		}
	}
	return set
}
