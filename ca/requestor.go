package ca

import (
	"fmt"
	"sort"
	"strings"
)

// NameID is the stable identity of a named entity (CA, user, requestor).
type NameID struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (n NameID) String() string {
	return fmt.Sprintf("%s(%d)", n.Name, n.ID)
}

// Permission is a bitset of operations a requestor may invoke on a CA.
type Permission uint32

const (
	PermEnrollCert   Permission = 1
	PermRevokeCert   Permission = 2
	PermUnrevokeCert Permission = 4
	PermRemoveCert   Permission = 8
	PermKeyUpdate    Permission = 16
	PermGenCRL       Permission = 32
	PermGetCRL       Permission = 64
	PermEnrollCross  Permission = 128

	PermAll = PermEnrollCert | PermRevokeCert | PermUnrevokeCert | PermRemoveCert |
		PermKeyUpdate | PermGenCRL | PermGetCRL | PermEnrollCross
)

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermEnrollCert, "enroll_cert"},
	{PermRevokeCert, "revoke_cert"},
	{PermUnrevokeCert, "unrevoke_cert"},
	{PermRemoveCert, "remove_cert"},
	{PermKeyUpdate, "key_update"},
	{PermGenCRL, "gen_crl"},
	{PermGetCRL, "get_crl"},
	{PermEnrollCross, "enroll_cross"},
}

// ParsePermissions converts permission names into a bitset. The name "all"
// grants every permission.
func ParsePermissions(names []string) (Permission, error) {
	var p Permission
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "all" {
			p |= PermAll
			continue
		}
		found := false
		for _, pn := range permissionNames {
			if pn.name == name {
				p |= pn.perm
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown permission %q", raw)
		}
	}
	return p, nil
}

// Has reports whether every bit of want is present in p.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

func (p Permission) String() string {
	if p == PermAll {
		return "all"
	}
	var names []string
	for _, pn := range permissionNames {
		if p&pn.perm != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ProfileSet is the set of certificate profiles a requestor may use.
type ProfileSet struct {
	all   bool
	names map[string]struct{}
}

// NewProfileSet builds a ProfileSet. Names are case-insensitive; "all"
// permits every profile.
func NewProfileSet(names ...string) ProfileSet {
	ps := ProfileSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if n == "all" {
			ps.all = true
			continue
		}
		ps.names[n] = struct{}{}
	}
	return ps
}

// AllProfiles returns a ProfileSet permitting every profile.
func AllProfiles() ProfileSet {
	return ProfileSet{all: true}
}

// Contains reports whether profile is permitted.
func (ps ProfileSet) Contains(profile string) bool {
	if ps.all {
		return true
	}
	_, ok := ps.names[strings.ToLower(profile)]
	return ok
}

// Names returns the sorted profile names, or ["all"].
func (ps ProfileSet) Names() []string {
	if ps.all {
		return []string{"all"}
	}
	out := make([]string, 0, len(ps.names))
	for n := range ps.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Requestor is an authenticated principal resolved against one CA.
type Requestor struct {
	Ident       NameID
	Permissions Permission
	Profiles    ProfileSet
}

// AssertPermitted returns an error wrapping ErrInsufficientPermission when
// the requestor lacks perm.
func (r *Requestor) AssertPermitted(perm Permission) error {
	if r.Permissions.Has(perm) {
		return nil
	}
	return fmt.Errorf("%w: requestor %s lacks %s", ErrInsufficientPermission, r.Ident.Name, perm)
}

// IsProfilePermitted reports whether the requestor may enroll with profile.
func (r *Requestor) IsProfilePermitted(profile string) bool {
	return r.Profiles.Contains(profile)
}
