// Package engine provides the core model of the patchwork component
// versioning engine.
//
// # Overview
//
// A host process is built from independently versioned components. Every
// component is introduced by an installer and moved forward by patches.
// The engine decides which of the known packages apply to the components
// already present, in what order they must run, and derives the installed
// state from the persisted log of package attempts.
//
// # Versions and intervals
//
// Version wraps hashicorp/go-version, so "1.0" and "1.0.0" are equal.
// VersionInterval holds independently inclusive or exclusive bounds and
// round-trips through its textual form:
//
//	iv := engine.MustParseVersionInterval("1.0 <= v < 2.0")
//	iv.Contains(engine.MustParseVersion("1.5")) // true
//
// # Descriptors and the resolver
//
// A PatchDescriptor is either an installer or a patch from a source interval
// to a target version. PatchBuilder collects descriptors immutably and
// validates them in Build. PatchResolver.Resolve takes the catalogue and the
// installed components and returns a Resolution:
//
//   - Executable: descriptors in execution order
//   - ResultingState: the components after a successful run
//   - Skipped: descriptors that do not apply
//   - Errors: one per conflicting component or blocked descriptor
//
// Conflicts (duplicated installers, equal targets, overlapping sources)
// exclude every descriptor of the affected component. Descriptors waiting
// for dependencies that never arrive are placed in a DAG; nodes on a cycle
// get CircularDependency errors, the others get the failing dependency check.
//
// # Persistence and installed state
//
// PackageStorage persists PackageRecord values. VersionInfoView wraps a
// storage, derives the Component list from the records and caches it until
// the next write:
//
//   - Version is the highest attempted version
//   - AcceptableVersion is the highest successful version
//
// # Errors
//
// All engine errors are *EngineError values with a class (parse,
// precondition, resolver, execution, storage) and a code. Use CodeOf or
// errors.Is(err, ErrCode(code)) to inspect them.
package engine
