package plugins

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the parsed (major, minor, patch, prerelease, build) tuple of
// SEMVER-shaped version string. Only the parsed components are kept: a
// leading "v" that Parse accepted is not reproduced by String().
type Version struct {
	Major, Minor, Patch int
	PreRelease          []string // dot-separated identifiers, in order
	Build                []string
}

// validIdentifier checks the grammar spec.md §4.2 requires for each dot-separated
// identifier: [0-9A-Za-z-]+, with no empty identifier.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-') {
			return false
		}
	}
	return true
}

func isNumericIdentifier(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// hasLeadingZero reports whether a numeric identifier has a disallowed
// leading zero (e.g. "01"), per spec.md §4.2.
func hasLeadingZero(s string) bool {
	return len(s) > 1 && s[0] == '0'
}

// Parse parses a version string per the grammar
// MAJOR.MINOR.PATCH('-'PRERELEASE)?('+'BUILD)?. Empty strings, missing
// numeric components, negative components, and empty identifier segments
// are rejected with InvalidArgument, per spec.md §3/§4.2.
func Parse(s string) (*Version, error) {
	if s == "" {
		return nil, Newf(InvalidArgument, "version string is empty")
	}

	rest := strings.TrimPrefix(s, "v")

	var build string
	hasBuild := false
	if i := strings.IndexByte(rest, '+'); i >= 0 {
		build = rest[i+1:]
		rest = rest[:i]
		hasBuild = true
	}

	var prerelease string
	hasPrerelease := false
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		prerelease = rest[i+1:]
		rest = rest[:i]
		hasPrerelease = true
	}

	core := strings.Split(rest, ".")
	if len(core) != 3 {
		return nil, Newf(InvalidArgument, "invalid version %q: expected MAJOR.MINOR.PATCH", s)
	}

	nums := make([]int, 3)
	for i, part := range core {
		if part == "" {
			return nil, Newf(InvalidArgument, "invalid version %q: empty version component", s)
		}
		if strings.HasPrefix(part, "-") {
			return nil, Newf(InvalidArgument, "invalid version %q: negative version component", s)
		}
		if hasLeadingZero(part) {
			return nil, Newf(InvalidArgument, "invalid version %q: leading zero in component %q", s, part)
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, Newf(InvalidArgument, "invalid version %q: component %q is not numeric", s, part)
		}
		nums[i] = n
	}

	v := &Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}

	if hasPrerelease {
		ids := strings.Split(prerelease, ".")
		for _, id := range ids {
			if !validIdentifier(id) {
				return nil, Newf(InvalidArgument, "invalid version %q: empty or malformed prerelease identifier", s)
			}
			if isNumericIdentifier(id) && hasLeadingZero(id) {
				return nil, Newf(InvalidArgument, "invalid version %q: leading zero in prerelease identifier %q", s, id)
			}
		}
		v.PreRelease = ids
	}

	if hasBuild {
		ids := strings.Split(build, ".")
		for _, id := range ids {
			if !validIdentifier(id) {
				return nil, Newf(InvalidArgument, "invalid version %q: empty or malformed build identifier", s)
			}
		}
		v.Build = ids
	}

	return v, nil
}

// String renders the canonical textual form. Build metadata is preserved
// even though it is ignored in ordering and equality.
func (v *Version) String() string {
	if v == nil {
		return ""
	}
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if len(v.PreRelease) > 0 {
		s += "-" + strings.Join(v.PreRelease, ".")
	}
	if len(v.Build) > 0 {
		s += "+" + strings.Join(v.Build, ".")
	}
	return s
}

// IsStable reports whether the version has no prerelease component.
func (v *Version) IsStable() bool { return v != nil && len(v.PreRelease) == 0 }

// IsPreRelease reports whether the version has a prerelease component.
func (v *Version) IsPreRelease() bool { return v != nil && len(v.PreRelease) > 0 }

// Compare implements strict weak ordering: -1 if v < other, 0 if equal
// (build metadata ignored), 1 if v > other.
func (v *Version) Compare(other *Version) int {
	if v == nil || other == nil {
		return 0
	}
	if d := compareInt(v.Major, other.Major); d != 0 {
		return d
	}
	if d := compareInt(v.Minor, other.Minor); d != 0 {
		return d
	}
	if d := compareInt(v.Patch, other.Patch); d != 0 {
		return d
	}

	switch {
	case len(v.PreRelease) == 0 && len(other.PreRelease) == 0:
		return 0
	case len(v.PreRelease) == 0:
		return 1 // release > prerelease
	case len(other.PreRelease) == 0:
		return -1
	}
	return comparePreRelease(v.PreRelease, other.PreRelease)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePreRelease compares two dot-separated prerelease identifier lists:
// numeric identifiers compare numerically and sort lower than alphanumeric
// ones; alphanumeric identifiers compare lexically; a shorter list that is a
// prefix of a longer one sorts lower.
func comparePreRelease(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		pa, pb := a[i], b[i]
		aNum, bNum := isNumericIdentifier(pa), isNumericIdentifier(pb)
		switch {
		case aNum && bNum:
			na, _ := strconv.Atoi(pa)
			nb, _ := strconv.Atoi(pb)
			if d := compareInt(na, nb); d != 0 {
				return d
			}
		case aNum && !bNum:
			return -1
		case !aNum && bNum:
			return 1
		default:
			if pa != pb {
				if pa < pb {
					return -1
				}
				return 1
			}
		}
	}
	return compareInt(len(a), len(b))
}

// Equal reports equality ignoring build metadata, as spec.md §8 requires:
// parse("1.0.0+a") == parse("1.0.0+b").
func (v *Version) Equal(other *Version) bool {
	return v.Compare(other) == 0
}

// Range is an inclusive [Min, Max] bound; either end may be nil to mean
// unbounded on that side.
type Range struct {
	Min *Version
	Max *Version
}

// Satisfies reports whether v falls within the inclusive range.
func (r *Range) Satisfies(v *Version) bool {
	if r == nil || v == nil {
		return true
	}
	if r.Min != nil && v.Compare(r.Min) < 0 {
		return false
	}
	if r.Max != nil && v.Compare(r.Max) > 0 {
		return false
	}
	return true
}

// ParseRange additionally accepts the operator/range surface syntax the
// teacher's version manager supported (">=1.0.0", "<=2.0.0", "1.0.0 - 2.0.0"),
// on top of the struct-level Min/Max contract spec.md §3 names.
func ParseRange(s string) (*Range, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, " - ") {
		parts := strings.SplitN(s, " - ", 2)
		min, err := Parse(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, err
		}
		max, err := Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}
		return &Range{Min: min, Max: max}, nil
	}

	for _, op := range []string{">=", "<=", ">", "<"} {
		if strings.HasPrefix(s, op) {
			v, err := Parse(strings.TrimSpace(strings.TrimPrefix(s, op)))
			if err != nil {
				return nil, err
			}
			switch op {
			case ">=":
				return &Range{Min: v}, nil
			case "<=":
				return &Range{Max: v}, nil
			case ">":
				return &Range{Min: &Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}}, nil
			case "<":
				return &Range{Max: v}, nil
			}
		}
	}

	v, err := Parse(s)
	if err != nil {
		return nil, Newf(InvalidArgument, "unsupported version range %q", s)
	}
	return &Range{Min: v, Max: v}, nil
}
