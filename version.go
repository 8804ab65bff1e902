package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// installerVersion is the version of this installer build. It can be
// overridden via ldflags.
var installerVersion = "1.0.0"

// Version is an ordered sequence of non-negative integer components parsed
// from a dot-separated string, e.g. "6.2.0". Unlike semantic versions, any
// number of components is allowed and a strict prefix sorts before the
// longer sequence ("1.2" < "1.2.0").
type Version []int

// ParseVersion parses a dot-separated version string.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	v := make(Version, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version string: %q", s)
		}
		v = append(v, n)
	}
	return v, nil
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare returns -1, 0 or 1 if v is less than, equal to, or greater than o.
// Components are compared numerically from the left; if one version is a
// strict prefix of the other, the shorter one is lesser.
func (v Version) Compare(o Version) int {
	for i := 0; i < len(v) && i < len(o); i++ {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(v) < len(o):
		return -1
	case len(v) > len(o):
		return 1
	}
	return 0
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// sortVersionStrings returns the given version strings in descending version
// order. Strings that do not parse as versions sort last.
func sortVersionStrings(versions []string) []string {
	sorted := make([]string, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, erri := ParseVersion(sorted[i])
		vj, errj := ParseVersion(sorted[j])
		if erri != nil || errj != nil {
			return errj != nil && erri == nil
		}
		return vj.Less(vi)
	})
	return sorted
}
