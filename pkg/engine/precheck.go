package engine

// CheckDependency verifies that an installed component satisfies a
// dependency. current is nil when the component is not installed.
func CheckDependency(dep Dependency, current *Component) *EngineError {
	if current == nil {
		return NewPreconditionError(ErrCodeDependencyNotFound,
			"dependency %s is not installed", dep.ComponentID).
			WithDetail("dependency", dep.String())
	}

	installed := current.AcceptableVersion
	if dep.Interval.Contains(installed) {
		return nil
	}

	var err *EngineError
	switch {
	case dep.Interval.IsExact():
		err = NewPreconditionError(ErrCodeDependencyVersion,
			"dependency %s must be exactly %s, installed %s", dep.ComponentID, dep.Interval, installed)
	case !dep.Interval.aboveMin(installed):
		err = NewPreconditionError(ErrCodeDependencyMinimumVersion,
			"dependency %s requires %s, installed %s is too low", dep.ComponentID, dep.Interval, installed)
	default:
		err = NewPreconditionError(ErrCodeDependencyMaximumVersion,
			"dependency %s requires %s, installed %s is too high", dep.ComponentID, dep.Interval, installed)
	}
	return err.WithDetail("dependency", dep.String()).WithDetail("installed", installed.String())
}

// CheckPrerequisites runs the ordered admission checks of a package against
// the installed components and returns the first failure:
// dependency existence and versions, reinstall of an existing component,
// patch of a missing component, and a target version that does not exceed
// the installed one. Tool packages are only checked for dependencies.
func CheckPrerequisites(pkg *PackageInfo, installed []Component, forceReinstall bool) error {
	index := IndexComponents(installed)

	for _, dep := range pkg.Dependencies {
		if err := CheckDependency(dep, index[dep.ComponentID]); err != nil {
			return err.WithResource(pkg.ComponentID)
		}
	}

	current := index[pkg.ComponentID]
	switch pkg.PackageType {
	case PackageTypeInstall:
		if current == nil {
			return nil
		}
		if !forceReinstall {
			return NewPreconditionError(ErrCodeCannotInstallExistingComponent,
				"component %s is already installed at %s", pkg.ComponentID, current.AcceptableVersion).
				WithResource(pkg.ComponentID)
		}
		if pkg.Version.LessThan(current.AcceptableVersion) {
			return targetTooSmall(pkg, current)
		}
	case PackageTypePatch:
		if current == nil {
			return NewPreconditionError(ErrCodeCannotUpdateMissingComponent,
				"component %s is not installed", pkg.ComponentID).WithResource(pkg.ComponentID)
		}
		if !pkg.Version.GreaterThan(current.AcceptableVersion) {
			return targetTooSmall(pkg, current)
		}
	}
	return nil
}

func targetTooSmall(pkg *PackageInfo, current *Component) *EngineError {
	return NewPreconditionError(ErrCodeTargetVersionTooSmall,
		"target version %s of %s must be greater than the installed version %s",
		pkg.Version, pkg.ComponentID, current.AcceptableVersion).
		WithResource(pkg.ComponentID).
		WithDetail("installed", current.AcceptableVersion.String())
}

// IndexComponents maps components by id.
func IndexComponents(components []Component) map[string]*Component {
	index := make(map[string]*Component, len(components))
	for i := range components {
		index[components[i].ComponentID] = &components[i]
	}
	return index
}
