package engine

import (
	"testing"
)

func packageInfo(t *testing.T, typ PackageType, id, version string, deps ...Dependency) *PackageInfo {
	t.Helper()
	return &PackageInfo{
		ComponentID:  id,
		PackageType:  typ,
		Version:      MustParseVersion(version),
		Description:  "test package",
		Dependencies: deps,
	}
}

func TestCheckPrerequisites(t *testing.T) {
	dep := func(id, interval string) Dependency {
		return Dependency{ComponentID: id, Interval: MustParseVersionInterval(interval)}
	}
	faulty := Component{
		ComponentID:       "C1",
		Version:           MustParseVersion("1.3"),
		AcceptableVersion: MustParseVersion("1.1"),
	}

	tests := []struct {
		name      string
		pkg       *PackageInfo
		installed []Component
		force     bool
		wantCode  ErrorCode
	}{
		{
			name: "fresh install",
			pkg:  packageInfo(t, PackageTypeInstall, "C1", "1.0"),
		},
		{
			name:     "missing dependency",
			pkg:      packageInfo(t, PackageTypeInstall, "C2", "1.0", dep("C1", "1.0 <= v")),
			wantCode: ErrCodeDependencyNotFound,
		},
		{
			name:      "exact dependency",
			pkg:       packageInfo(t, PackageTypeInstall, "C2", "1.0", dep("C1", "2.0")),
			installed: []Component{installed("C1", "1.0")},
			wantCode:  ErrCodeDependencyVersion,
		},
		{
			name:      "dependency too low",
			pkg:       packageInfo(t, PackageTypeInstall, "C2", "1.0", dep("C1", "1.5 <= v")),
			installed: []Component{installed("C1", "1.0")},
			wantCode:  ErrCodeDependencyMinimumVersion,
		},
		{
			name:      "dependency too high",
			pkg:       packageInfo(t, PackageTypeInstall, "C2", "1.0", dep("C1", "v < 1.0")),
			installed: []Component{installed("C1", "1.0")},
			wantCode:  ErrCodeDependencyMaximumVersion,
		},
		{
			name:      "reinstall",
			pkg:       packageInfo(t, PackageTypeInstall, "C1", "1.0"),
			installed: []Component{installed("C1", "1.0")},
			wantCode:  ErrCodeCannotInstallExistingComponent,
		},
		{
			name:      "forced reinstall",
			pkg:       packageInfo(t, PackageTypeInstall, "C1", "1.0"),
			installed: []Component{installed("C1", "1.0")},
			force:     true,
		},
		{
			name:     "patch missing component",
			pkg:      packageInfo(t, PackageTypePatch, "C1", "1.1"),
			wantCode: ErrCodeCannotUpdateMissingComponent,
		},
		{
			name:      "patch same version",
			pkg:       packageInfo(t, PackageTypePatch, "C1", "1.0"),
			installed: []Component{installed("C1", "1.0")},
			wantCode:  ErrCodeTargetVersionTooSmall,
		},
		{
			name:      "patch rerun after failure",
			pkg:       packageInfo(t, PackageTypePatch, "C1", "1.3"),
			installed: []Component{faulty},
		},
		{
			name:      "intermediate patch below failed attempt",
			pkg:       packageInfo(t, PackageTypePatch, "C1", "1.2"),
			installed: []Component{faulty},
		},
		{
			name:      "patch below installed version",
			pkg:       packageInfo(t, PackageTypePatch, "C1", "1.0"),
			installed: []Component{faulty},
			wantCode:  ErrCodeTargetVersionTooSmall,
		},
		{
			name: "tool checks dependencies only",
			pkg:  packageInfo(t, PackageTypeTool, "", "0.0"),
		},
		{
			name:     "dependency checked before install state",
			pkg:      packageInfo(t, PackageTypePatch, "C1", "1.1", dep("C9", "1.0")),
			wantCode: ErrCodeDependencyNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPrerequisites(tt.pkg, tt.installed, tt.force)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if CodeOf(err) != tt.wantCode {
				t.Fatalf("Expected %s, got %v", tt.wantCode, err)
			}
			if !IsPrecondition(err) {
				t.Errorf("Expected precondition class, got %s", ClassOf(err))
			}
		})
	}
}
