package gittree

import "path"

// MatchGlob reports whether the slash separated path p matches glob.
// Within a component the syntax of [path.Match] applies, so * and ? never
// cross a slash. A component that is exactly ** matches any number of
// components, including none.
func MatchGlob(glob, p string) bool {
	return matchComponents(SplitPath(glob), SplitPath(p))
}

func matchComponents(glob, parts []string) bool {
	for len(glob) > 0 {
		if glob[0] == "**" {
			rest := glob[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchComponents(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, err := path.Match(glob[0], parts[0]); err != nil || !ok {
			return false
		}
		glob, parts = glob[1:], parts[1:]
	}
	return len(parts) == 0
}

// GlobMayMatchBelow reports whether some path below directory dir can match
// glob. It is used to skip directories while filtering.
func GlobMayMatchBelow(glob, dir string) bool {
	g := SplitPath(glob)
	for _, d := range SplitPath(dir) {
		if len(g) == 0 {
			return false
		}
		if g[0] == "**" {
			return true
		}
		if ok, err := path.Match(g[0], d); err != nil || !ok {
			return false
		}
		g = g[1:]
	}
	return len(g) > 0
}
