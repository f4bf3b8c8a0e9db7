package server

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/ije/esbuild-internal/js_parser"
	"github.com/ije/esbuild-internal/logger"
)

// specifier-detecting patterns, grounded on dts_walker.go's line-scanning
// regFromExpr/regImportPlainExpr/regImportCallExpr technique, adapted
// from .d.ts triple-slash syntax to plain ESM import/export forms. Byte
// ranges come from these matches directly rather than from any parser's
// internal Range/Loc fields, since only ImportRecord.Path.Text is a
// confirmed field on the parser's AST.
var (
	regFromSpecifier = regexp.MustCompile(`(^|[\s;}\)])from\s*(['"])([^'"]+)(['"])`)
	regBareImport    = regexp.MustCompile(`(^|[\s;])import\s*(['"])([^'"]+)(['"])`)
	regDynamicImport = regexp.MustCompile(`import\(\s*(['"])([^'"]+)(['"])\s*\)`)
)

type specifierEdit struct {
	start, end int // byte range of the specifier text itself, quotes excluded
	specifier  string
}

// resolveSpecifierFunc maps one module specifier, as written in the
// source, to its canonical CDN URL path. Returns ok=false to leave the
// specifier untouched (ResolverStepFailure, §4.6/§7).
type resolveSpecifierFunc func(specifier string) (canonicalURL string, ok bool)

// rewriteModule implements the AST Rewriter (§4.6). Parse failures and
// per-specifier resolution failures both degrade to pass-through, per
// the "transform failures degrade to pass-through" rule in §7.
func rewriteModule(source string, filename string, resolve resolveSpecifierFunc) (rewritten string, discovered []string, err error) {
	if strings.HasSuffix(filename, ".d.ts") {
		return source, nil, nil
	}

	log := logger.NewDeferLog(logger.DeferLogNoVerboseOrDebug, nil)
	_, pass := js_parser.Parse(log, logger.Source{
		Index:      0,
		KeyPath:    logger.Path{Text: filename},
		PrettyPath: filename,
		Contents:   source,
	}, js_parser.Options{})
	if !pass {
		return source, nil, newError(KindParseError, filename, nil)
	}

	edits := collectSpecifierEdits(source)
	if len(edits) == 0 {
		return source, nil, nil
	}

	seen := map[string]string{}
	var b strings.Builder
	cursor := 0
	for _, e := range edits {
		canonical, ok := seen[e.specifier]
		if !ok {
			canonical, ok = resolve(e.specifier)
			if ok {
				seen[e.specifier] = canonical
				discovered = append(discovered, canonical)
			}
		}
		if !ok {
			continue // ResolverStepFailure: leave this specifier untouched
		}
		b.WriteString(source[cursor:e.start])
		b.WriteString(canonical)
		cursor = e.end
	}
	b.WriteString(source[cursor:])
	return b.String(), discovered, nil
}

// collectSpecifierEdits walks the source once with the three specifier
// patterns and returns all matches sorted and de-overlapped by position,
// so the range-accurate editor above applies them left to right.
func collectSpecifierEdits(source string) []specifierEdit {
	var edits []specifierEdit
	addMatches := func(re *regexp.Regexp, specGroup int) {
		for _, m := range re.FindAllSubmatchIndex([]byte(source), -1) {
			if m[specGroup*2] < 0 {
				continue
			}
			edits = append(edits, specifierEdit{
				start:     m[specGroup*2],
				end:       m[specGroup*2+1],
				specifier: source[m[specGroup*2]:m[specGroup*2+1]],
			})
		}
	}
	addMatches(regFromSpecifier, 3)
	addMatches(regBareImport, 3)
	addMatches(regDynamicImport, 2)

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	// drop overlaps: if two patterns ever match overlapping spans, keep
	// the one that starts first.
	out := edits[:0]
	lastEnd := -1
	for _, e := range edits {
		if e.start < lastEnd {
			continue
		}
		out = append(out, e)
		lastEnd = e.end
	}
	return out
}

// resolveModuleSpecifier implements the relative/bare split from §4.6
// step 4: relative specifiers re-enter the request pipeline rooted at
// the current request's package; bare specifiers resolve their own
// version out of the current manifest's dependency fields.
func resolveModuleSpecifier(rc *RequestConfig, specifier string) (string, bool) {
	if isRelativeSpecifier(specifier) {
		targetSubpath := path.Join(path.Dir(rc.Subpath), specifier)
		if !strings.HasPrefix(targetSubpath, ".") {
			targetSubpath = "./" + targetSubpath
		}
		target := &RequestConfig{
			Registry: rc.Registry,
			Name:     rc.Name,
			Version:  rc.Version,
			Subpath:  targetSubpath,
			Flags:    rc.Flags,
		}
		installDir := rc.InstallDir
		resolvedSubpath, err := resolveSubpath(rc.PackageManifest, target.Subpath, installDir)
		if err != nil {
			return "", false
		}
		target.Subpath = resolvedSubpath
		return encode(target), true
	}

	name, subpath := splitBareSpecifier(specifier)
	versionRange := "latest"
	if rc.PackageManifest != nil {
		if v, ok := rc.PackageManifest.Dependencies[name]; ok {
			versionRange = v
		} else if v, ok := rc.PackageManifest.DevDependencies[name]; ok {
			versionRange = v
		} else if v, ok := rc.PackageManifest.PeerDependencies[name]; ok {
			versionRange = v
		}
	}
	if name == "svelte" {
		if v, ok := rc.flag("svelte"); ok && v != "" {
			versionRange = v
		}
	}

	version, err := resolveVersion(name, versionRange)
	if err != nil {
		return "", false
	}
	manifest, err := fetchPackageManifest(name, version)
	if err != nil {
		return "", false
	}
	installDir, err := ensureInstalled(name, version)
	if err != nil {
		return "", false
	}
	pkgRoot := path.Join(installDir, "node_modules", name)
	resolvedSubpath, err := resolveSubpath(&manifest, subpath, pkgRoot)
	if err != nil {
		return "", false
	}

	target := &RequestConfig{
		Registry: "npm",
		Name:     name,
		Version:  version,
		Subpath:  resolvedSubpath,
		Flags:    map[string]string{},
	}
	return encode(target), true
}

// splitBareSpecifier separates "@scope/name/sub/path" or "name/sub/path"
// into (packageName, "./sub/path").
func splitBareSpecifier(specifier string) (name, subpath string) {
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		name = parts[0] + "/" + parts[1]
		parts = parts[2:]
	} else {
		name = parts[0]
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return name, "."
	}
	return name, "./" + strings.Join(parts, "/")
}
