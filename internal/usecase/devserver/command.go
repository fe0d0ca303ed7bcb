package devserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCommand is used when nothing better can be derived from package.json.
const DefaultCommand = "npm run dev"

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func readPackageJSON(projectPath string) (*packageJSON, bool) {
	data, err := os.ReadFile(filepath.Join(projectPath, "package.json"))
	if err != nil {
		return nil, false
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, false
	}
	return &pkg, true
}

// frameworkScripts lists, per framework, the scripts tried in order and the
// command used when none of them exists.
var frameworkScripts = map[string]struct {
	scripts  []string
	fallback string
}{
	"react":   {[]string{"dev", "start"}, DefaultCommand},
	"next":    {[]string{"dev", "start"}, DefaultCommand},
	"vue":     {[]string{"dev", "serve"}, DefaultCommand},
	"nuxt":    {[]string{"dev", "serve"}, DefaultCommand},
	"angular": {[]string{"serve", "start"}, "ng serve"},
	"svelte":  {[]string{"dev", "start"}, DefaultCommand},
}

// DetectCommand derives the dev command for a project from its
// package.json scripts, preferring the scripts conventional for framework.
func DetectCommand(projectPath, framework string) string {
	pkg, ok := readPackageJSON(projectPath)
	if !ok {
		return DefaultCommand
	}

	if fw, known := frameworkScripts[strings.ToLower(framework)]; known {
		for _, name := range fw.scripts {
			if _, exists := pkg.Scripts[name]; exists {
				return "npm run " + name
			}
		}
		return fw.fallback
	}

	for _, name := range []string{"dev", "start", "serve"} {
		if _, exists := pkg.Scripts[name]; exists {
			return "npm run " + name
		}
	}
	return DefaultCommand
}

// frameworkDeps is checked in order; the first dependency present wins.
var frameworkDeps = []struct {
	dep       string
	framework string
}{
	{"next", "next"},
	{"nuxt", "nuxt"},
	{"react", "react"},
	{"vue", "vue"},
	{"@angular/core", "angular"},
	{"svelte", "svelte"},
	{"@sveltejs/kit", "svelte"},
}

// DetectFramework names the front-end framework a project depends on, or
// returns "" when none is recognised.
func DetectFramework(projectPath string) string {
	pkg, ok := readPackageJSON(projectPath)
	if !ok {
		return ""
	}
	for _, fd := range frameworkDeps {
		if _, ok := pkg.Dependencies[fd.dep]; ok {
			return fd.framework
		}
		if _, ok := pkg.DevDependencies[fd.dep]; ok {
			return fd.framework
		}
	}
	return ""
}
