package obsfs

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// isAFile mirrors original_source/util.c's is_a_file(): whether an entry
// found inside a plain "directory" container should be treated as a
// regular file rather than a subdirectory, based on its name and the
// API path it was found under.
func isAFile(apiPath, filename string) bool {
	for _, ext := range []string{".rpm", ".repo", ".xml", ".gz", ".key", ".asc", ".solv"} {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	pathNames := [][2]string{
		{"/published/", "content"},
		{"/published/", "packages"},
		{"/published/", "packages.DU"},
		{"/published/", "packages.en"},
		{"/published/", "directory.yast"},
	}
	for _, pn := range pathNames {
		if strings.HasPrefix(apiPath, pn[0]) && filename == pn[1] {
			return true
		}
	}
	return strings.HasSuffix(apiPath, "/repocache")
}

// ParsedEntry is one node recovered from an API directory response,
// ready for the caller to insert into DirCache/AttrCache.
type ParsedEntry struct {
	Name     string
	IsDir    bool
	Symlink  string
	Hardlink string
	Size     int64
	HasSize  bool
	Mtime    time.Time
}

// ParsedDir is the result of parsing one API directory response.
type ParsedDir struct {
	Rev     string
	Entries []ParsedEntry
}

// ParseRequest carries the context expat_api_dir_start/end needed beyond
// the XML bytes themselves: the virtual path being listed (used for the
// "_my_packages" special-casing and as the symlink-construction base),
// the API path actually fetched (used by isAFile), the canonical/mangled
// path (used to build _failed hardlink targets), and an optional
// attr=value filter.
type ParseRequest struct {
	FSPath      string
	APIPath     string
	MangledPath string
	Filter      *Filter
}

// XMLDirParser turns an openSUSE Build Service API directory response
// into a ParsedDir. It recognizes the same container/element vocabulary
// as the original expat-based parser (directory, binarylist, result,
// collection, latest_added, latest_updated containing entry, binary,
// project, package, status elements) using encoding/xml's streaming
// token API, which is the idiomatic Go analogue of expat's push
// interface: neither buffers the whole document.
type XMLDirParser struct{}

func NewXMLDirParser() *XMLDirParser { return &XMLDirParser{} }

type dirParseState struct {
	req ParseRequest
	out ParsedDir

	inDir        bool
	inCollection bool
	inLatest     bool
}

func isContainer(name string) bool {
	switch name {
	case "directory", "binarylist", "result", "collection", "latest_added", "latest_updated":
		return true
	}
	return false
}

func attrVal(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (p *XMLDirParser) Parse(r io.Reader, req ParseRequest) (*ParsedDir, error) {
	st := &dirParseState{req: req}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("obsfs: parsing directory response for %s: %w", req.FSPath, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			st.start(t)
		case xml.EndElement:
			st.end(t)
		}
	}
	return &st.out, nil
}

func (st *dirParseState) start(t xml.StartElement) {
	name := t.Name.Local

	if isContainer(name) {
		st.inDir = true
		if name == "collection" {
			st.inCollection = true
		}
		if name == "latest_added" || name == "latest_updated" {
			st.inLatest = true
		}
		if rev, ok := attrVal(t.Attr, "rev"); ok {
			st.out.Rev = rev
		}
		return
	}

	if st.inDir && (name == "entry" || name == "binary" || name == "project" || name == "package") {
		st.entry(name, t.Attr)
	}

	if st.inDir && name == "status" {
		st.status(t.Attr)
	}
}

func (st *dirParseState) end(t xml.EndElement) {
	switch t.Name.Local {
	case "directory", "binarylist", "result", "collection":
		st.inDir = false
		st.inCollection = false
	}
}

// entry handles <entry>, <binary>, <project> and <package> elements,
// mirroring expat_api_dir_start's directory-entry branch attribute by
// attribute, in document order, exactly as the original does.
func (st *dirParseState) entry(elemName string, attrs []xml.Attr) {
	filter := st.req.Filter
	var filename string
	haveFilename := false
	isDir := true
	isSymlink := false
	var size int64
	haveSize := false
	var mtime time.Time
	var symlink string
	haveSymlink := false
	var relinkTemplate string
	haveRelink := false

	for _, a := range attrs {
		if filter != nil && a.Name.Local == filter.Attr && a.Value != filter.Value {
			// entry doesn't match the filter, skip it entirely
			return
		}
		switch a.Name.Local {
		case "name":
			if st.inCollection {
				if elemName == "package" {
					if strings.HasSuffix(st.req.FSPath, "/_my_packages") {
						// waiting for the collection's own "project" attribute below
					} else {
						isSymlink = true
						filename = a.Value
						haveFilename = true
						project := lastPathComponent(st.req.FSPath)
						symlink = fmt.Sprintf("../../%s/%s", project, filename)
						haveSymlink = true
					}
				} else {
					filename = a.Value
					haveFilename = true
					isSymlink = true
					symlink = "../" + filename
					haveSymlink = true
				}
			} else if st.inLatest {
				filename = a.Value
				haveFilename = true
			} else {
				filename = a.Value
				haveFilename = true
				if isAFile(st.req.APIPath, filename) || strings.HasSuffix(st.req.APIPath, "/request") {
					isDir = false
				}
			}
		case "filename":
			filename = a.Value
			haveFilename = true
			isDir = false
		case "size":
			if n, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
				size = n
				haveSize = true
				isDir = false
			}
		case "mtime":
			if n, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
				mtime = time.Unix(n, 0)
			}
		case "project":
			if st.inLatest {
				relinkTemplate = fmt.Sprintf("../../source/%s/%%s", a.Value)
				haveRelink = true
			} else if strings.HasSuffix(st.req.FSPath, "/_my_packages") {
				full := st.req.FSPath + "/" + a.Value
				if !st.alreadyHasEntry(full) {
					filename = a.Value
					haveFilename = true
				}
			}
		}
	}

	if !haveFilename {
		return
	}

	if haveRelink {
		symlink = fmt.Sprintf(relinkTemplate, filename)
		haveSymlink = true
		isSymlink = true
	}

	e := ParsedEntry{Name: filename, IsDir: isDir && !isSymlink, Mtime: mtime}
	if haveSymlink {
		e.Symlink = symlink
		e.IsDir = false
	}
	if haveSize {
		e.Size = size
		e.HasSize = true
	}
	st.out.Entries = append(st.out.Entries, e)
}

// alreadyHasEntry reports whether full (a complete virtual path, not just
// a name) has already been recorded in this parse pass, used to dedupe
// "_my_packages" project listings derived from a flat package collection
// that names the same project repeatedly.
func (st *dirParseState) alreadyHasEntry(full string) bool {
	name := full[strings.LastIndex(full, "/")+1:]
	for _, e := range st.out.Entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// status handles <status> elements inside a "result" listing (the
// _failed trees): each one names a package whose build failed, hardlinked
// to that package's _log file.
func (st *dirParseState) status(attrs []xml.Attr) {
	filter := st.req.Filter
	var packageName string
	have := false
	for _, a := range attrs {
		if filter != nil && a.Name.Local == filter.Attr && a.Value != filter.Value {
			have = false
			return
		}
		if a.Name.Local == "package" {
			packageName = a.Value
			have = true
		}
	}
	if !have {
		return
	}

	// Could be at build/<project>/_failed/<repo>/<arch> or at
	// build/<project>/<repo>/<arch>/_failed; MangledPath is always the
	// latter, so strip its last path element ("_failed") and append the
	// package name's own log file.
	base := st.req.MangledPath
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i+1]
	}
	hardlink := base + packageName + "/_log"

	st.out.Entries = append(st.out.Entries, ParsedEntry{
		Name:     packageName,
		IsDir:    false,
		Hardlink: hardlink,
	})
}

func lastPathComponent(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return p
	}
	return p[i+1:]
}
