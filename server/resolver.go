package server

import (
	"path"
	"strings"
)

// resolveSubpath implements the Subpath Resolver (§4.4): map a manifest
// and a requested subpath to a concrete path relative to the installed
// package root, in strict precedence order. Written as a single ordered
// pass over the conditional-exports/legacy-field checks rather than a
// class hierarchy.
func resolveSubpath(manifest *PackageManifest, subpath string, installedPkgRoot string) (string, error) {
	// 1. legacy component field
	if subpath == "." && manifest.Svelte != "" {
		return normalizeEntryPath(manifest.Svelte), nil
	}

	// 2. modern conditional exports
	if manifest.Exports != nil {
		if target, ok := resolveExportsMap(manifest.Exports, subpath); ok {
			return normalizeEntryPath(target), nil
		}
	}

	// 3. legacy entry fields, subpath "." only
	if subpath == "." {
		if target, ok := resolveLegacyEntry(manifest); ok {
			return normalizeEntryPath(target), nil
		}
	}

	// 4. filesystem probing for non-"." subpaths
	if subpath != "." {
		if target, ok := probeFilesystem(installedPkgRoot, subpath); ok {
			return target, nil
		}
	}

	// 5. legacy browser map
	if manifest.Browser.Map != nil {
		if v, ok := manifest.Browser.Map[subpath]; ok {
			if s, isStr := v.(string); isStr {
				return normalizeEntryPath(s), nil
			}
		}
	}

	// 6. fallback
	return subpath, nil
}

// normalizeEntryPath guarantees a package.json-declared entry path is
// rooted with "./" before it reaches encode(), which otherwise assumes
// every subpath already carries the prefix (see url.go's encode). Real
// manifests routinely omit it — left-pad's own package.json declares
// "main": "index.js", not "./index.js". Grounds build_resolver.go's
// normalizeEntryPath("." + utils.NormalizePathname(path)), adapted here
// to leave the inlined-empty-module data URL sentinel untouched.
func normalizeEntryPath(p string) string {
	if p == "" || p == "." || strings.HasPrefix(p, "data:") {
		return p
	}
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return "./" + p
}

// resolveExportsMap evaluates the exports field against the requested
// subpath with the conditions in exportConditionsPriority (browser,
// svelte, production, import, module, default, in that order), returning
// (target, true) on a match or ("", false) to fall through silently.
func resolveExportsMap(exports any, subpath string) (string, bool) {
	switch v := exports.(type) {
	case string:
		if subpath == "." {
			return v, true
		}
		return "", false
	case map[string]any:
		// subpath-keyed export map: {"." : ..., "./foo": ...}
		if hasSubpathKeys(v) {
			entry, ok := v[subpath]
			if !ok {
				return "", false
			}
			return resolveConditionEntry(entry)
		}
		// condition-keyed map applying to "."
		if subpath != "." {
			return "", false
		}
		return resolveConditionEntry(v)
	}
	return "", false
}

func hasSubpathKeys(m map[string]any) bool {
	for k := range m {
		if k == "." || strings.HasPrefix(k, "./") {
			return true
		}
	}
	return false
}

var exportConditionsPriority = []string{"browser", "svelte", "production", "import", "module", "default"}

func resolveConditionEntry(entry any) (string, bool) {
	switch v := entry.(type) {
	case string:
		return v, true
	case bool:
		if !v {
			return emptyModuleDataURL, true
		}
		return "", false
	case nil:
		return "", false
	case map[string]any:
		for _, cond := range exportConditionsPriority {
			if inner, ok := v[cond]; ok {
				if s, ok := resolveConditionEntry(inner); ok {
					return s, true
				}
			}
		}
		return "", false
	case []any:
		for _, alt := range v {
			if s, ok := resolveConditionEntry(alt); ok {
				return s, true
			}
		}
		return "", false
	}
	return "", false
}

// resolveLegacyEntry reads browser, module, main in order, unwrapping
// subpath-keyed object forms for "." and treating a literal false as
// the inlined-empty-module sentinel.
func resolveLegacyEntry(manifest *PackageManifest) (string, bool) {
	if manifest.Browser.Value != "" {
		return manifest.Browser.Value, true
	}
	if manifest.Browser.Map != nil {
		if v, ok := manifest.Browser.Map["."]; ok {
			if b, isBool := v.(bool); isBool && !b {
				return emptyModuleDataURL, true
			}
			if s, isStr := v.(string); isStr && s != "" {
				return s, true
			}
		}
	}
	if v := manifest.Module.MainValue(); v != "" {
		return v, true
	}
	if manifest.Main != "" {
		return manifest.Main, true
	}
	return "", false
}

// probeFilesystem tries subpath, subpath.mjs, subpath.js,
// subpath/index.mjs, subpath/index.js under root, rejecting directories.
func probeFilesystem(root, subpath string) (string, bool) {
	rel := strings.TrimPrefix(subpath, "./")
	candidates := []string{
		rel,
		rel + ".mjs",
		rel + ".js",
		path.Join(rel, "index.mjs"),
		path.Join(rel, "index.js"),
	}
	for _, c := range candidates {
		full := path.Join(root, c)
		if existsFile(full) {
			return "./" + c, true
		}
	}
	return "", false
}
