package domain

// AllowedDotfiles are shown and watched despite the leading dot.
var AllowedDotfiles = map[string]bool{
	".gitignore":   true,
	".env":         true,
	".env.example": true,
}

// IgnoredNames are build and dependency directories skipped by listings
// and watches.
var IgnoredNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"coverage":     true,
	".nyc_output":  true,
}

// IsIgnoredName reports whether a single path element should be skipped.
func IsIgnoredName(name string) bool {
	if IgnoredNames[name] {
		return true
	}
	return len(name) > 1 && name[0] == '.' && !AllowedDotfiles[name]
}
