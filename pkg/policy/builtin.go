package policy

import (
	"time"
)

// Built-in policy names.
const (
	PolicyNoPrereleaseInProduction = "no_prerelease_in_production"
	PolicyNoMajorJump              = "no_major_jump"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		noPrereleaseInProductionPolicy(),
		noMajorJumpPolicy(),
	}
}

// noPrereleaseInProductionPolicy rejects prerelease versions when the
// configured environment is production.
func noPrereleaseInProductionPolicy() Policy {
	return Policy{
		Name:        PolicyNoPrereleaseInProduction,
		Description: "Prerelease component versions may not be installed in production",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"versioning", "environment"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package patchwork.policies.prerelease

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	input.package.prerelease
	violation := {
		"message": sprintf("prerelease version %s of %s is not allowed in production", [input.package.version, input.package.id]),
		"severity": "error",
	}
}
`,
	}
}

// noMajorJumpPolicy warns when a patch moves a component to a new major
// version.
func noMajorJumpPolicy() Policy {
	return Policy{
		Name:        PolicyNoMajorJump,
		Description: "Patches that change the major version of a component are reported",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"versioning"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package patchwork.policies.majorjump

import rego.v1

deny contains violation if {
	input.package.type == "Patch"
	current := input.installed[input.package.id]
	input.package.major > current.major
	violation := {
		"message": sprintf("patch moves %s from major version %v to %v", [input.package.id, current.major, input.package.major]),
		"severity": "warning",
	}
}
`,
	}
}
