package obsfs

import (
	"bytes"
	"compress/bzip2"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Unknwon/goconfig"
)

// Account is a resolved osc-style login for one server.
type Account struct {
	User string
	Pass string
}

// oscrcSectionHost pulls the bare host out of a ".oscrc" section name,
// which is written as "host", "http://host" or "https://host", optionally
// followed by a "/..." path suffix that is ignored.
var oscrcSectionHost = regexp.MustCompile(`^(?:https?://)?([^/]+)`)

// ReadAccount scans an osc-style ".oscrc" file for the section matching
// server and returns the account configured there. goconfig handles the
// INI mechanics (comments, whitespace, quoting); the host match itself is
// not a lookup by section name but a byte-prefix test against the
// captured host, reproducing original_source/rc.c's
// strncmp(section_host, server, len(section_host)) — quirks included: a
// short section header matches any server it is a prefix of. Do not "fix"
// this; osc itself relies on it for bare-host vs. host:port entries.
func ReadAccount(path, server string) (*Account, error) {
	cfg, err := goconfig.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return accountFromConfig(cfg, path, server)
}

func accountFromConfig(cfg *goconfig.ConfigFile, path, server string) (*Account, error) {
	for _, section := range cfg.GetSectionList() {
		m := oscrcSectionHost.FindStringSubmatch(section)
		if m == nil || !strings.HasPrefix(server, m[1]) {
			continue
		}

		user := cfg.MustValue(section, "user", "")
		if user == "" {
			continue
		}

		// "pass=" takes priority over "passx=" when a section somehow
		// carries both, regardless of their order in the file; this
		// approximates the original's first-occurrence-wins guard (see
		// DESIGN.md; real .oscrc files carry at most one of the two).
		pass := cfg.MustValue(section, "pass", "")
		if pass == "" {
			if passx := cfg.MustValue(section, "passx", ""); passx != "" {
				decoded, err := decodePassX(passx)
				if err != nil {
					continue
				}
				pass = decoded
			}
		}
		if pass == "" {
			continue
		}

		return &Account{User: user, Pass: pass}, nil
	}
	return nil, fmt.Errorf("obsfs: no complete login for %q in %s", server, path)
}

// decodePassX reverses osc's "passx" obfuscation: base64, then bzip2, of
// the plaintext password. No vendored bzip2 codec anywhere in the
// dependency pack does decompression, and the standard library's
// compress/bzip2 is decompress-only — exactly what's needed here — so it
// is used directly rather than adding an unused write-capable dependency.
func decodePassX(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
