package tsconfig

import (
	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// DefaultName is the config file looked for when none is given.
const DefaultName = "tsconfig.json"

// ResolveProject turns a --project argument into a config path: a
// directory means its tsconfig.json.
func ResolveProject(sys host.FileSystem, cwd, project string) string {
	p := tspath.Combine(cwd, project)
	if sys.DirectoryExists(p) {
		return tspath.Combine(p, DefaultName)
	}
	return p
}

// FindConfigFile searches dir and its ancestors for tsconfig.json and
// returns "" when there is none.
func FindConfigFile(sys host.FileSystem, dir string) string {
	for _, d := range tspath.Ancestors(dir) {
		if p := tspath.Combine(d, DefaultName); sys.FileExists(p) {
			return p
		}
	}
	return ""
}
