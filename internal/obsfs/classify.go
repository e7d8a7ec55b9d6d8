package obsfs

import (
	"fmt"
	"regexp"
	"strings"
)

// Compiled path patterns, one-to-one with the regexes compile_regexes()
// builds in original_source/obsfs.c. Anchoring matches the original, and
// so do the capture groups except in reSourceMyProjectPackages, whose
// optional project suffix is a non-capturing group that captures the
// project name without its leading slash. Go's RE2 syntax covers
// everything POSIX ERE used here.
var (
	reBuildProject               = regexp.MustCompile(`^/build/[^/_][^/]*$`)
	reBuildProjectFailed         = regexp.MustCompile(`^/build/[^/_][^/]*/_failed$`)
	reBuildProjectFailedFoo      = regexp.MustCompile(`^/build/[^/_][^/]*/_failed/[^/]*$`)
	reBuildProjectFailedFooBar   = regexp.MustCompile(`^/build/[^/_][^/]*/_failed/[^/]*/[^/]*$`)
	reBuildProjectRepoArch       = regexp.MustCompile(`^/build/[^/]*/[^/]*/[^/]*$`)
	reBuildProjectRepoArchFoo    = regexp.MustCompile(`^/build/[^/]*/[^/]*/[^/]*/[^/]*$`)
	reBuildProjectRepoArchFailed = regexp.MustCompile(`^/build/([^/]*)/([^/]*)/([^/]*)/_failed$`)
	reSourceProjectPackage       = regexp.MustCompile(`^/source/([^/]*)/([^/]*)$`)
	reSourceMyProjectPackages    = regexp.MustCompile(`^/source/_my_(project|package)s(?:/([^/]*))?$`)
)

// RootDirs are the synthetic top-level directories; the server has no
// endpoint for "/" itself (it returns a human-readable info page), so
// these are hardcoded.
var RootDirs = []string{"build", "source", "published", "request", "statistics"}

// Filter constrains which XML elements the parser accepts: only entries
// whose Attr attribute equals Value are kept.
type Filter struct {
	Attr  string
	Value string
}

// SyntheticEntry is a file or directory name injected into a listing
// even though the server's XML response did not contain it, because it
// is known to be fetchable by a fixed URL shape.
type SyntheticEntry struct {
	Name     string
	IsDir    bool
	Hardlink string // optional: contents come from this virtual path instead
}

// RewritePlan is what PathClassifier produces for one virtual path: where
// to fetch it from, how to filter what comes back, and what to bolt on
// after parsing.
type RewritePlan struct {
	// CanonicalPath is the path used to build the API URL and, for
	// _failed listings, the hardlink target prefix. It is NOT the cache
	// key: cache entries are keyed by the literal virtual path passed to
	// Classify, matching original_source/obsfs.c (dir_cache_new() and
	// add_dir_node() both key off the requested fs_path, never the
	// post-mangling canon_path) — see DESIGN.md.
	CanonicalPath string

	// APIPath is the server-relative URL path (may include a query
	// string) to GET. Empty when PureSynthetic is true.
	APIPath string

	Filter *Filter

	// Mangled is true when this path was rewritten from a "_failed"
	// alias form; a mangled plan never gets synthetic entries appended,
	// to avoid double-injecting nodes that belong to the canonical form.
	Mangled bool

	// PureSynthetic is true for directories that are never fetched from
	// the server at all ("/" and "/statistics"): their entire listing is
	// the Synthetic slice.
	PureSynthetic bool

	Synthetic []SyntheticEntry
}

// PathClassifier maps virtual paths to RewritePlans. It holds no mutable
// state; Classify is pure given the configured username.
type PathClassifier struct {
	username string
}

func NewPathClassifier(username string) *PathClassifier {
	return &PathClassifier{username: username}
}

func dirEntry(name string) SyntheticEntry          { return SyntheticEntry{Name: name, IsDir: true} }
func fileEntry(name string) SyntheticEntry         { return SyntheticEntry{Name: name, IsDir: false} }
func hardlinkEntry(name, target string) SyntheticEntry {
	return SyntheticEntry{Name: name, IsDir: false, Hardlink: target}
}

// Classify returns the RewritePlan for path, which must be an absolute
// virtual path ("/", a root, or something under a root).
func (c *PathClassifier) Classify(path string) RewritePlan {
	if path == "/" {
		entries := make([]SyntheticEntry, 0, len(RootDirs))
		for _, d := range RootDirs {
			entries = append(entries, dirEntry(d))
		}
		return RewritePlan{CanonicalPath: "/", PureSynthetic: true, Synthetic: entries}
	}

	canon, mangled := canonicalize(path)

	plan := RewritePlan{CanonicalPath: canon, Mangled: mangled}

	switch {
	case canon == "/statistics":
		plan.PureSynthetic = true
	case reBuildProjectRepoArchFailed.MatchString(canon):
		m := reBuildProjectRepoArchFailed.FindStringSubmatch(canon)
		project, repo, arch := m[1], m[2], m[3]
		plan.APIPath = fmt.Sprintf("/build/%s/_result?repository=%s&arch=%s", project, repo, arch)
		plan.Filter = &Filter{Attr: "code", Value: "failed"}
	case reSourceMyProjectPackages.MatchString(canon):
		m := reSourceMyProjectPackages.FindStringSubmatch(canon)
		kind, project := m[1], m[2]
		if kind == "project" || project == "" {
			plan.APIPath = fmt.Sprintf("/search/%s_id?match=person/@userid+=+'%s'", kind, c.username)
		} else {
			plan.APIPath = fmt.Sprintf("/search/package_id?match=person/@userid+=+'%s'+and+@project+=+'%s'", c.username, project)
		}
	case canon == "/build/_my_projects":
		plan.APIPath = fmt.Sprintf("/search/project_id?match=person/@userid+=+'%s'", c.username)
	case reSourceProjectPackage.MatchString(canon):
		plan.APIPath = canon + "?expand=1"
	default:
		plan.APIPath = canon
	}

	if !mangled {
		plan.Synthetic = syntheticEntriesFor(canon)
	}

	return plan
}

// canonicalize strips a "/_failed" alias component and, if it names the
// longer "<foo>/<bar>" (repo/arch) alias shape, re-appends "_failed" at
// the end, producing the single canonical directory form. Returns the
// canonical path and whether any rewriting occurred.
func canonicalize(path string) (string, bool) {
	if !strings.Contains(path, "/_failed") {
		return path, false
	}
	switch {
	case reBuildProjectFailedFooBar.MatchString(path):
		stripped := stripFirst(path, "/_failed")
		return stripped + "/_failed", true
	case reBuildProjectFailedFoo.MatchString(path), reBuildProjectFailed.MatchString(path):
		return stripFirst(path, "/_failed"), true
	default:
		return path, false
	}
}

func stripFirst(s, substr string) string {
	i := strings.Index(s, substr)
	if i < 0 {
		return s
	}
	return s[:i] + s[i+len(substr):]
}

// syntheticEntriesFor computes the extra directories/files a (canonical,
// unmangled) directory path gets beyond what the server's XML lists.
func syntheticEntriesFor(canon string) []SyntheticEntry {
	var out []SyntheticEntry

	switch canon {
	case "/build", "/source":
		out = append(out, dirEntry("_my_projects"))
		if canon == "/source" {
			out = append(out, dirEntry("_my_packages"))
		}
	case "/statistics":
		out = append(out, dirEntry("latest_added"), dirEntry("latest_updated"))
	}

	if strings.HasPrefix(canon, "/build") {
		if reBuildProjectRepoArch.MatchString(canon) || reBuildProject.MatchString(canon) {
			out = append(out, dirEntry("_failed"))
		}
		if !reBuildProjectRepoArchFailed.MatchString(canon) && reBuildProjectRepoArchFoo.MatchString(canon) {
			out = append(out, fileEntry("_history"), fileEntry("_reason"), fileEntry("_status"), fileEntry("_log"))
		}
	}

	if m := reSourceProjectPackage.FindStringSubmatch(canon); m != nil {
		project, pkg := m[1], m[2]
		out = append(out,
			hardlinkEntry("_activity", fmt.Sprintf("/statistics/activity/%s/%s", project, pkg)),
			hardlinkEntry("_rating", fmt.Sprintf("/statistics/rating/%s/%s", project, pkg)),
		)
	}

	return out
}
