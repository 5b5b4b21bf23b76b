package semver

import (
	"regexp"
	"strings"

	sv "github.com/Masterminds/semver"
)

type Version = sv.Version

var NewConstraint = sv.NewConstraint

func Parse(s string) (*Version, error) {
	fixedS := nonSemverWorkaround(strings.TrimSpace(s))

	return sv.NewVersion(fixedS)
}

// Satisfies reports whether the version contained in s matches the
// constraint, e.g. Satisfies("3.9.18", "~3.9") == true. s goes through the
// same lenient parsing as Parse.
func Satisfies(s, constraint string) (bool, error) {
	v, err := Parse(s)
	if err != nil {
		return false, err
	}

	c, err := NewConstraint(constraint)
	if err != nil {
		return false, err
	}

	return c.Check(v), nil
}

var versionRegex *regexp.Regexp

func init() {
	versionRegex = regexp.MustCompile(`v?([0-9]+)(\.[0-9]+)?(\.[0-9]+)?` + `(.*)`)
}

func nonSemverWorkaround(s string) string {
	matches := versionRegex.FindStringSubmatch(s)

	var preLike string

	if len(matches) > 3 {
		preLike = matches[4]
	}

	if preLike != "" && preLike[0] == '.' {
		s = ""
		ss := matches[1:4]
		for i := range ss {
			if ss[i] != "" {
				s += ss[i]
			}
		}

		s += "-" + preLike[1:]
	}

	return s
}
