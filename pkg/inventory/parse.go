package inventory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const packagePrefix = "package:"

// packageNamePattern accepts Java-style package names.
// adb shell joins its arguments into a remote shell command line, so anything
// outside this set could be interpreted by the device shell.
var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// ValidatePackageName rejects identifiers that are unsafe to pass to adb shell
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPackage)
	}
	if len(name) > 256 {
		return fmt.Errorf("%w: name too long (max 256 characters)", ErrInvalidPackage)
	}
	if !packageNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains illegal characters", ErrInvalidPackage, name)
	}
	return nil
}

// splitLines splits tool output into lines without the trailing CR adb emits on Windows
func splitLines(output string) []string {
	lines := strings.Split(output, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

// parseDeviceLine reads `adb devices` output. Only the first entry after the
// header is considered; it counts as connected when one of its state fields is
// exactly "device" (not "offline", "unauthorized", ...).
func parseDeviceLine(output string) (serial string, ok bool) {
	lines := splitLines(output)
	if len(lines) < 2 {
		return "", false
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 2 {
		return "", false
	}
	for _, f := range fields[1:] {
		if f == "device" {
			return fields[0], true
		}
	}
	return "", false
}

// parsePackages reads `pm list packages` output. Lines without the package:
// prefix (warnings, blank lines) are dropped.
func parsePackages(output string) []string {
	var packages []string
	for _, line := range splitLines(output) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, packagePrefix) {
			continue
		}
		name := strings.TrimPrefix(line, packagePrefix)
		if name == "" {
			continue
		}
		packages = append(packages, name)
	}
	sortPackages(packages)
	return packages
}

// sortPackages orders case-insensitively; equal keys keep their input order
func sortPackages(packages []string) {
	sort.SliceStable(packages, func(i, j int) bool {
		return strings.ToLower(packages[i]) < strings.ToLower(packages[j])
	})
}

// filterPackages returns the entries containing query, ignoring case
func filterPackages(packages []string, query string) []string {
	if query == "" {
		return append([]string{}, packages...)
	}

	q := strings.ToLower(query)
	filtered := make([]string, 0, len(packages))
	for _, p := range packages {
		if strings.Contains(strings.ToLower(p), q) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
