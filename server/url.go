package server

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var pkgNameRe = regexp.MustCompile(`^(@[a-zA-Z0-9][\w.-]*/[a-zA-Z0-9][\w.-]*|[a-zA-Z0-9][\w.-]*)$`)

// RequestConfig is the resolved description of one request, produced by
// decode and filled in further (InstallDir, PackageManifest) as the
// request moves through the pipeline.
type RequestConfig struct {
	Registry        string // "npm" or "github"
	Name            string
	Version         string // exact once resolved; a range/tag/"latest" until then
	Subpath         string // begins with "./" or is exactly "."
	Flags           map[string]string
	OriginalURL     string
	PackageManifest *PackageManifest
	InstallDir      string
}

func (rc *RequestConfig) flag(name string) (string, bool) {
	v, ok := rc.Flags[name]
	return v, ok
}

// decode parses either grammar from §4.1 into a RequestConfig plus
// whether the input was already in canonical form.
func decode(rawURL string) (rc *RequestConfig, canonical bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false, newError(KindInvalidURL, "malformed url", err)
	}
	pathname := u.Path

	if i := strings.Index(pathname, "!!cdnv:"); i >= 0 {
		rc, err = decodeCanonical(pathname)
		if err != nil {
			return nil, false, err
		}
		rc.OriginalURL = rawURL
		return rc, true, nil
	}

	rc, err = decodeRaw(pathname, u.Query())
	if err != nil {
		return nil, false, err
	}
	rc.OriginalURL = rawURL
	return rc, false, nil
}

func decodeCanonical(pathname string) (*RequestConfig, error) {
	head, tail := splitOnce(pathname, "!!cdnv:")
	registry, name, version, subpath, err := splitPkgSegment(head)
	if err != nil {
		return nil, err
	}
	if !regexpFullVersion.MatchString(version) {
		return nil, newError(KindInvalidURL, "canonical url must carry an exact version", nil)
	}

	build, flagTail := splitOnce(tail, ";")
	if build == "" {
		return nil, newError(KindInvalidURL, "missing cdnv build tag", nil)
	}

	flags := map[string]string{}
	if flagTail != "" {
		for _, pair := range strings.Split(flagTail, ";") {
			if pair == "" {
				continue
			}
			alias, value, ok := cut(pair, ":")
			if !ok {
				continue
			}
			if key, known := aliasToFlag[alias]; known {
				flags[key] = value
			}
		}
	}

	return &RequestConfig{
		Registry: registry,
		Name:     name,
		Version:  version,
		Subpath:  subpath,
		Flags:    flags,
	}, nil
}

func decodeRaw(pathname string, query url.Values) (*RequestConfig, error) {
	registry, name, version, subpath, err := splitPkgSegment(pathname)
	if err != nil {
		return nil, err
	}
	if version == "" {
		version = "latest"
	}

	flags := map[string]string{}
	if v := query.Get("svelte"); v != "" {
		flags["svelte"] = v
	} else if _, ok := query["svelte"]; ok && endsWith(subpath, ".svelte") {
		flags["svelte"] = "latest"
	}
	if v := query.Get("metadata"); v != "" {
		switch v {
		case "false", "0", "null":
			// not truthy, drop
		default:
			flags["metadata"] = v
		}
	}

	return &RequestConfig{
		Registry: registry,
		Name:     name,
		Version:  version,
		Subpath:  subpath,
		Flags:    flags,
	}, nil
}

// splitPkgSegment parses "/<registry>/<name>@<version>/<subpath>" (the
// registry and version are both optional on input) the way the
// teacher's splitPkgPath hand-parses a single path segment.
func splitPkgSegment(pathname string) (registry, name, version, subpath string, err error) {
	pathname = strings.TrimPrefix(pathname, "/")
	registry = "npm"
	if rest, ok := cutPrefixSegment(pathname, "npm"); ok {
		pathname = rest
	} else if rest, ok := cutPrefixSegment(pathname, "github"); ok {
		registry = "github"
		pathname = rest
	}

	segs := strings.SplitN(pathname, "/", 2)
	nameVersion := segs[0]
	rest := ""
	if len(segs) > 1 {
		rest = segs[1]
	}
	if strings.HasPrefix(nameVersion, "@") && len(segs) > 0 {
		// scoped package: re-join the first two slash segments
		all := strings.Split(pathname, "/")
		if len(all) < 2 {
			return "", "", "", "", newError(KindInvalidURL, "invalid scoped package path", nil)
		}
		nameVersion = all[0] + "/" + all[1]
		rest = strings.Join(all[2:], "/")
	}

	atIdx := strings.LastIndex(nameVersion, "@")
	if strings.HasPrefix(nameVersion, "@") {
		// the leading '@' belongs to the scope; look for a second '@'
		if i := strings.Index(nameVersion[1:], "@"); i >= 0 {
			atIdx = i + 1
		} else {
			atIdx = -1
		}
	}
	if atIdx > 0 {
		name = nameVersion[:atIdx]
		version = nameVersion[atIdx+1:]
	} else {
		name = nameVersion
	}

	if !pkgNameRe.MatchString(name) {
		return "", "", "", "", newError(KindInvalidURL, "invalid package name: "+name, nil)
	}

	subpath = "."
	if rest != "" {
		subpath = "./" + strings.TrimPrefix(rest, "/")
	}
	return registry, name, version, subpath, nil
}

// encode renders the canonical URL for a fully resolved RequestConfig:
// exact version, resolved subpath, non-recognized query stripped, and
// the !!cdnv:<build>;<alias>:<value>... tail sorted lexicographically.
func encode(rc *RequestConfig) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(rc.Registry)
	b.WriteByte('/')
	b.WriteString(rc.Name)
	b.WriteByte('@')
	b.WriteString(rc.Version)
	if rc.Subpath != "" && rc.Subpath != "." {
		b.WriteString(strings.TrimPrefix(rc.Subpath, "."))
	}

	pairs := []string{"cdnv:" + buildVersion}
	for key, value := range rc.Flags {
		if value == "" {
			continue
		}
		if alias, ok := flagAliases[key]; ok {
			pairs = append(pairs, alias+":"+value)
		}
	}
	sort.Strings(pairs)

	b.WriteString("!!")
	b.WriteString(strings.Join(pairs, ";"))
	return b.String()
}

// canonicalize decodes raw, resolving with resolveVersion and
// resolveSubpathFn, and returns the canonical URL path alongside the
// fully resolved RequestConfig. Idempotent: feeding it a canonical URL
// back through resolveVersion/resolveSubpathFn with an exact version
// and an already-resolved subpath returns the same path.
func canonicalize(rawURL string, resolveVersion func(name, rangeOrTag string) (string, error), resolveSubpathFn func(rc *RequestConfig) (string, error)) (canonicalURL string, rc *RequestConfig, wasCanonical bool, err error) {
	rc, wasCanonical, err = decode(rawURL)
	if err != nil {
		return "", nil, false, err
	}
	if !regexpFullVersion.MatchString(rc.Version) {
		rc.Version, err = resolveVersion(rc.Name, rc.Version)
		if err != nil {
			return "", nil, false, err
		}
	}
	resolved, err := resolveSubpathFn(rc)
	if err != nil {
		return "", nil, false, err
	}
	rc.Subpath = resolved
	return encode(rc), rc, wasCanonical, nil
}

func splitOnce(s, sep string) (before, after string) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+len(sep):]
}

func cut(s, sep string) (before, after string, found bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func cutPrefixSegment(pathname, seg string) (rest string, ok bool) {
	if pathname == seg {
		return "", true
	}
	if strings.HasPrefix(pathname, seg+"/") {
		return pathname[len(seg)+1:], true
	}
	return pathname, false
}
