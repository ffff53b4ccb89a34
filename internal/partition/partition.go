// Package partition parses staging object keys into Hive partition keys and
// groups them for compaction.
package partition

import (
	"regexp"
	"strings"
)

// StagingPrefix is the namespace all staging objects live under.
const StagingPrefix = "data/"

// ArtifactPrefix is the namespace compacted artifacts live under.
const ArtifactPrefix = "parquet/"

// stagingKeyPattern captures the partition segment of a staging key.
var stagingKeyPattern = regexp.MustCompile(`^data/([^/]+)/`)

// FromKey extracts the partition key from a staging object key. The second
// return is false for keys outside the staging namespace or with a segment
// that is not of the form <field>=<value>.
func FromKey(key string) (string, bool) {
	m := stagingKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	seg := m[1]
	field, value, ok := strings.Cut(seg, "=")
	if !ok || field == "" || value == "" {
		return "", false
	}
	// Nothing after the partition segment means the key is a directory
	// marker, not a staging object.
	if len(key) <= len(StagingPrefix)+len(seg)+1 {
		return "", false
	}
	return seg, true
}

// Grouping maps partition keys to the staging keys that belong to them.
// Partitions preserves first-seen order; per-partition key lists preserve
// input order.
type Grouping struct {
	Partitions []string
	Keys       map[string][]string
}

// Group folds an ordered sequence of object keys into per-partition groups.
// Keys that do not parse are dropped; they are not in the staging namespace
// and must not be touched. Group cannot fail: an empty result means there is
// nothing to compact.
func Group(keys []string) Grouping {
	g := Grouping{Keys: make(map[string][]string)}
	for _, key := range keys {
		part, ok := FromKey(key)
		if !ok {
			continue
		}
		if _, seen := g.Keys[part]; !seen {
			g.Partitions = append(g.Partitions, part)
		}
		g.Keys[part] = append(g.Keys[part], key)
	}
	return g
}

// TotalKeys returns the number of staging keys across all groups.
func (g Grouping) TotalKeys() int {
	n := 0
	for _, keys := range g.Keys {
		n += len(keys)
	}
	return n
}

// Empty reports whether the grouping holds no staging keys.
func (g Grouping) Empty() bool {
	return len(g.Partitions) == 0
}
