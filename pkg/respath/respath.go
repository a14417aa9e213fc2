// Package respath parses and manipulates dotted, indexed resource paths
// such as "tile.cluster2.pe1" and their index-free templates
// ("tile.cluster.pe").
package respath

import (
	"strconv"
	"strings"
)

// Path is a dotted, indexed hierarchical resource key, e.g. "tile0.cluster2.pe1".
type Path = string

// Segment is one dot-separated component of a Path, e.g. "cluster2".
type Segment struct {
	Name  string // alphabetic prefix, e.g. "cluster"
	Index int    // numeric suffix, -1 if the segment carries no index
}

// Split breaks a path into its segments.
func Split(path Path) []Segment {
	parts := strings.Split(path, ".")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, splitSegment(p))
	}
	return segs
}

func splitSegment(s string) Segment {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return Segment{Name: s, Index: -1}
	}
	idx, err := strconv.Atoi(s[i:])
	if err != nil {
		return Segment{Name: s, Index: -1}
	}
	return Segment{Name: s[:i], Index: idx}
}

// Template strips numeric indices from every segment of a path, e.g.
// "tile0.cluster2.pe1" -> "tile.cluster.pe".
func Template(path Path) string {
	segs := Split(path)
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.Name
	}
	return strings.Join(names, ".")
}

// Depth reports the number of segments in a path.
func Depth(path Path) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}

// PopHead splits a path into its first segment and the remainder, using
// sep as the separator (normally "."). ok is false if path has no
// remainder (a single segment).
func PopHead(path Path, sep string) (head, rest string, ok bool) {
	idx := strings.Index(path, sep)
	if idx < 0 {
		return path, "", false
	}
	return path[:idx], path[idx+len(sep):], true
}

// MatchesTemplate reports whether a concrete path matches a template,
// segment by segment, ignoring the numeric index of each segment.
func MatchesTemplate(path Path, template string) bool {
	pathSegs := Split(path)
	tmplSegs := Split(template)
	if len(pathSegs) != len(tmplSegs) {
		return false
	}
	for i := range pathSegs {
		if pathSegs[i].Name != tmplSegs[i].Name {
			return false
		}
	}
	return true
}

// WithIndex replaces the index of the segment named name in path with
// idx, returning the rewritten path. If name does not appear, path is
// returned unchanged.
func WithIndex(path Path, name string, idx int) Path {
	segs := Split(path)
	out := make([]string, len(segs))
	for i, s := range segs {
		if s.Name == name {
			out[i] = s.Name + strconv.Itoa(idx)
		} else if s.Index >= 0 {
			out[i] = s.Name + strconv.Itoa(s.Index)
		} else {
			out[i] = s.Name
		}
	}
	return strings.Join(out, ".")
}
