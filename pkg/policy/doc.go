// Package policy gates package execution with Open Policy Agent policies.
//
// Before the first phase of a package runs, the executor hands the package
// header and the installed components to Engine.Admit. Every enabled policy
// is evaluated against an input document of the form:
//
//	{
//	  "package":   {"id", "type", "version", "major", "prerelease",
//	                "release_date", "description", "dependencies"},
//	  "installed": {"<id>": {"version", "acceptable_version", "major"}},
//	  "context":   {"environment", "timestamp", "operation"}
//	}
//
// Violations come from the deny rule of each policy module. An element of
// the deny set is either a message string or an object with message,
// severity and component keys. Error and critical violations deny the
// package; warnings and infos are reported only.
//
// # Built-in Policies
//
//   - no_prerelease_in_production: denies prerelease versions when the
//     environment is "production".
//   - no_major_jump: warns when a patch changes the major version of a
//     component.
//
// # Custom Policies
//
// Additional .rego files are loaded from the configured policy directory.
// The file name is the policy name, the leading comment block its
// description, and a "# severity: error" comment sets its default
// severity:
//
//	# Core may only be patched by the platform team.
//	# severity: error
//	package patchwork.policies.core_owner
//
//	import rego.v1
//
//	deny contains msg if {
//		input.package.id == "Core"
//		input.context.environment == "production"
//		msg := "Core changes require a maintenance window"
//	}
//
// Engine.Watch reloads the directory when files change.
package policy
