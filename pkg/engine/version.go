package engine

import (
	"fmt"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Version is a dotted component version such as "1.0" or "7.1.2.3".
// Missing trailing segments compare as zero, so "1.0" equals "1.0.0".
// The zero value is the version 0.0.
type Version struct {
	v *goversion.Version
}

// ZeroVersion is the lowest version, used when an interval has no minimum.
var ZeroVersion = MustParseVersion("0.0")

// ParseVersion parses a version string.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, NewParseError(ErrCodeInvalidVersion, "version is empty")
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return Version{}, NewParseError(ErrCodeInvalidVersion, "invalid version %q", s).WithCause(err)
	}
	return Version{v: v}, nil
}

// MustParseVersion parses a version string and panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or 1 depending on whether v is lower than,
// equal to or greater than other.
func (v Version) Compare(other Version) int {
	return v.value().Compare(other.value())
}

// LessThan reports whether v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan reports whether v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal reports whether v == other.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// IsZero reports whether v is 0.0.
func (v Version) IsZero() bool {
	return v.Compare(ZeroVersion) == 0
}

// Major returns the first segment of the version.
func (v Version) Major() int {
	return v.value().Segments()[0]
}

// Prerelease returns the pre-release suffix, if any.
func (v Version) Prerelease() string {
	return v.value().Prerelease()
}

// String returns the version exactly as it was written.
func (v Version) String() string {
	if v.v == nil {
		return "0.0"
	}
	return v.v.Original()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Version) value() *goversion.Version {
	if v.v == nil {
		return ZeroVersion.v
	}
	return v.v
}

// MaxVersion returns the greater of a and b.
func MaxVersion(a, b Version) Version {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// VersionInterval is an immutable interval over versions with independently
// inclusive or exclusive bounds. An absent minimum means 0.0 (inclusive); an
// absent maximum means unbounded.
type VersionInterval struct {
	min          Version
	max          Version
	hasMin       bool
	hasMax       bool
	minExclusive bool
	maxExclusive bool
}

// AnyVersion is the interval that contains every version.
var AnyVersion = VersionInterval{}

// NewVersionInterval builds and validates an interval. Nil bounds are absent.
func NewVersionInterval(min *Version, minExclusive bool, max *Version, maxExclusive bool) (VersionInterval, error) {
	iv := VersionInterval{}
	if min != nil {
		iv.min = *min
		iv.hasMin = true
		iv.minExclusive = minExclusive
	}
	if max != nil {
		iv.max = *max
		iv.hasMax = true
		iv.maxExclusive = maxExclusive
	}
	if err := iv.validate(); err != nil {
		return VersionInterval{}, err
	}
	return iv, nil
}

// ExactVersion returns the single-point interval [v, v].
func ExactVersion(v Version) VersionInterval {
	return VersionInterval{min: v, max: v, hasMin: true, hasMax: true}
}

// MinVersion returns the interval v <= x (or v < x when exclusive).
func MinVersion(v Version, exclusive bool) VersionInterval {
	return VersionInterval{min: v, hasMin: true, minExclusive: exclusive}
}

func (iv VersionInterval) validate() error {
	if !iv.hasMin || !iv.hasMax {
		return nil
	}
	switch cmp := iv.min.Compare(iv.max); {
	case cmp > 0:
		return NewResolverError(ErrCodeMaxLessThanMin,
			"maximum version %s is less than minimum version %s", iv.max, iv.min)
	case cmp == 0 && (iv.minExclusive || iv.maxExclusive):
		return NewResolverError(ErrCodeInvalidInterval,
			"interval %s is empty: equal bounds must both be inclusive", iv)
	}
	return nil
}

// Min returns the minimum bound and whether it is present.
func (iv VersionInterval) Min() (Version, bool) { return iv.min, iv.hasMin }

// Max returns the maximum bound and whether it is present.
func (iv VersionInterval) Max() (Version, bool) { return iv.max, iv.hasMax }

// MinExclusive reports whether the minimum bound is exclusive.
func (iv VersionInterval) MinExclusive() bool { return iv.minExclusive }

// MaxExclusive reports whether the maximum bound is exclusive.
func (iv VersionInterval) MaxExclusive() bool { return iv.maxExclusive }

// IsExact reports whether the interval contains exactly one version.
func (iv VersionInterval) IsExact() bool {
	return iv.hasMin && iv.hasMax && iv.min.Equal(iv.max)
}

// Contains reports whether v lies inside the interval.
func (iv VersionInterval) Contains(v Version) bool {
	return iv.aboveMin(v) && iv.belowMax(v)
}

func (iv VersionInterval) aboveMin(v Version) bool {
	min := iv.min
	if !iv.hasMin {
		min = ZeroVersion
	}
	cmp := v.Compare(min)
	return cmp > 0 || (cmp == 0 && !iv.minExclusive)
}

func (iv VersionInterval) belowMax(v Version) bool {
	if !iv.hasMax {
		return true
	}
	cmp := v.Compare(iv.max)
	return cmp < 0 || (cmp == 0 && !iv.maxExclusive)
}

// Overlaps reports whether at least one version lies in both intervals.
func (iv VersionInterval) Overlaps(other VersionInterval) bool {
	// Highest lower bound.
	lo, loExcl := iv.lower()
	olo, oloExcl := other.lower()
	switch cmp := lo.Compare(olo); {
	case cmp < 0:
		lo, loExcl = olo, oloExcl
	case cmp == 0:
		loExcl = loExcl || oloExcl
	}

	// Lowest upper bound.
	if !iv.hasMax && !other.hasMax {
		return true
	}
	hi, hiExcl := iv.max, iv.maxExclusive
	switch {
	case !iv.hasMax:
		hi, hiExcl = other.max, other.maxExclusive
	case other.hasMax:
		switch cmp := other.max.Compare(hi); {
		case cmp < 0:
			hi, hiExcl = other.max, other.maxExclusive
		case cmp == 0:
			hiExcl = hiExcl || other.maxExclusive
		}
	}

	cmp := lo.Compare(hi)
	return cmp < 0 || (cmp == 0 && !loExcl && !hiExcl)
}

func (iv VersionInterval) lower() (Version, bool) {
	if !iv.hasMin {
		return ZeroVersion, false
	}
	return iv.min, iv.minExclusive
}

// Equal reports whether both intervals have the same bounds.
func (iv VersionInterval) Equal(other VersionInterval) bool {
	lo, loExcl := iv.lower()
	olo, oloExcl := other.lower()
	if !lo.Equal(olo) || loExcl != oloExcl || iv.hasMax != other.hasMax {
		return false
	}
	return !iv.hasMax || (iv.max.Equal(other.max) && iv.maxExclusive == other.maxExclusive)
}

// String renders the interval as "1.0 <= v < 2.0". ParseVersionInterval
// accepts the same form.
func (iv VersionInterval) String() string {
	if !iv.hasMin && !iv.hasMax {
		return "*"
	}
	var sb strings.Builder
	if iv.hasMin {
		sb.WriteString(iv.min.String())
		sb.WriteString(comparator(iv.minExclusive))
	}
	sb.WriteString("v")
	if iv.hasMax {
		sb.WriteString(comparator(iv.maxExclusive))
		sb.WriteString(iv.max.String())
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (iv VersionInterval) MarshalText() ([]byte, error) {
	return []byte(iv.String()), nil
}

func comparator(exclusive bool) string {
	if exclusive {
		return " < "
	}
	return " <= "
}

var intervalPattern = regexp.MustCompile(`^(?:([^\s<]+)\s*(<=|<)\s*)?v\s*(?:(<=|<)\s*([^\s<]+))?$`)

// ParseVersionInterval parses the textual form produced by String. A bare
// version ("1.0") is shorthand for the single-point interval.
func ParseVersionInterval(s string) (VersionInterval, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" || s == "v" {
		return AnyVersion, nil
	}
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		v, err := ParseVersion(s)
		if err != nil {
			return VersionInterval{}, NewParseError(ErrCodeInvalidVersion, "invalid version interval %q", s)
		}
		return ExactVersion(v), nil
	}

	var min, max *Version
	if m[1] != "" {
		v, err := ParseVersion(m[1])
		if err != nil {
			return VersionInterval{}, err
		}
		min = &v
	}
	if m[4] != "" {
		v, err := ParseVersion(m[4])
		if err != nil {
			return VersionInterval{}, err
		}
		max = &v
	}
	return NewVersionInterval(min, m[2] == "<", max, m[3] == "<")
}

// MustParseVersionInterval parses an interval and panics on error.
func MustParseVersionInterval(s string) VersionInterval {
	iv, err := ParseVersionInterval(s)
	if err != nil {
		panic(err)
	}
	return iv
}

// VersionAttributes holds the raw version attributes of a dependency
// declaration. Nil means the attribute is absent.
type VersionAttributes struct {
	Version             *string
	MinVersion          *string
	MinVersionExclusive *string
	MaxVersion          *string
	MaxVersionExclusive *string
}

// IsEmpty reports whether no version attribute is present.
func (a VersionAttributes) IsEmpty() bool {
	return a.Version == nil && a.MinVersion == nil && a.MinVersionExclusive == nil &&
		a.MaxVersion == nil && a.MaxVersionExclusive == nil
}

// Interval converts the attribute set into an interval. An exact version
// cannot be combined with any bound, and each bound can be given only once.
func (a VersionAttributes) Interval() (VersionInterval, error) {
	if a.Version != nil {
		if a.MinVersion != nil || a.MinVersionExclusive != nil || a.MaxVersion != nil || a.MaxVersionExclusive != nil {
			return VersionInterval{}, NewParseError(ErrCodeUnexpectedVersionAttribute,
				"an exact version cannot be combined with min or max attributes")
		}
		v, err := ParseVersion(*a.Version)
		if err != nil {
			return VersionInterval{}, err
		}
		return ExactVersion(v), nil
	}
	if a.MinVersion != nil && a.MinVersionExclusive != nil {
		return VersionInterval{}, NewParseError(ErrCodeDoubleMinVersionAttribute,
			"minVersion and minVersionExclusive are mutually exclusive")
	}
	if a.MaxVersion != nil && a.MaxVersionExclusive != nil {
		return VersionInterval{}, NewParseError(ErrCodeDoubleMaxVersionAttribute,
			"maxVersion and maxVersionExclusive are mutually exclusive")
	}

	min, minExcl, err := pickBound(a.MinVersion, a.MinVersionExclusive)
	if err != nil {
		return VersionInterval{}, err
	}
	max, maxExcl, err := pickBound(a.MaxVersion, a.MaxVersionExclusive)
	if err != nil {
		return VersionInterval{}, err
	}
	return NewVersionInterval(min, minExcl, max, maxExcl)
}

func pickBound(inclusive, exclusive *string) (*Version, bool, error) {
	raw, excl := inclusive, false
	if exclusive != nil {
		raw, excl = exclusive, true
	}
	if raw == nil {
		return nil, false, nil
	}
	v, err := ParseVersion(*raw)
	if err != nil {
		return nil, false, err
	}
	return &v, excl, nil
}

// Dependency states that a package requires a component whose installed
// version lies inside Interval.
type Dependency struct {
	ComponentID string          `json:"id" yaml:"id"`
	Interval    VersionInterval `json:"interval" yaml:"interval"`
}

// NewDependency validates and builds a dependency.
func NewDependency(componentID string, interval VersionInterval) (Dependency, error) {
	if componentID == "" {
		return Dependency{}, NewParseError(ErrCodeEmptyDependencyID, "dependency id is empty")
	}
	return Dependency{ComponentID: componentID, Interval: interval}, nil
}

// String renders the dependency as "id: interval".
func (d Dependency) String() string {
	return fmt.Sprintf("%s: %s", d.ComponentID, d.Interval)
}
