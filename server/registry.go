package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ije/gox/utils"
	"github.com/ije/gox/valid"

	"github.com/modcdn/modcdn/internal/fetch"
)

const npmRegistryDefault = "https://registry.npmjs.org/"

// ref https://github.com/npm/validate-npm-package-name
var npmNaming = valid.Validator{valid.FromTo{'a', 'z'}, valid.FromTo{'A', 'Z'}, valid.FromTo{'0', '9'}, valid.Eq('.'), valid.Eq('-'), valid.Eq('_')}

// fixedPkgVersions is the narrow allow-list of historical patches that
// applyVersionFixup applies during the manifest lookup: a resolved
// "name@version" matching a key prefix is swapped for the manifest of the
// pinned version in the value. The map currently has no entries.
var fixedPkgVersions = map[string]string{}

type NpmRegistry struct {
	Registry string `json:"registry"`
	Token    string `json:"token"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// PackageManifest is the normalized package.json shape the resolver and
// rewriter operate on.
type PackageManifest struct {
	Name             string                 `json:"name"`
	Version          string                 `json:"version"`
	Type             string                 `json:"type,omitempty"`
	Main             string                 `json:"main,omitempty"`
	Module           StringOrMap            `json:"module,omitempty"`
	Svelte           string                 `json:"svelte,omitempty"`
	Browser          StringOrMap            `json:"browser,omitempty"`
	SideEffects      any                    `json:"sideEffects,omitempty"`
	Dependencies     map[string]string      `json:"dependencies,omitempty"`
	DevDependencies  map[string]string      `json:"devDependencies,omitempty"`
	PeerDependencies map[string]string      `json:"peerDependencies,omitempty"`
	Exports          any                    `json:"exports,omitempty"`
	Imports          map[string]any         `json:"imports,omitempty"`
}

type npmPackageVersions struct {
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]PackageManifest `json:"versions"`
}

var fetchLocks sync.Map

func getFetchLock(key string) *sync.Mutex {
	v, _ := fetchLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// resolveVersion implements the Version Resolver (§4.2): turn a semver
// range or dist-tag into an exact version via the registry manifest
// lookup. It is a thin wrapper around fetchPackageManifest that just
// reads back the resolved .Version.
func resolveVersion(name, rangeOrTag string) (string, error) {
	info, err := fetchPackageManifest(name, rangeOrTag)
	if err != nil {
		return "", newError(KindVersionUnresolvable, fmt.Sprintf("%s@%s", name, rangeOrTag), err)
	}
	return info.Version, nil
}

// fetchPackageManifest resolves (name, rangeOrTag) to a full manifest,
// fronted by the in-process manifestMemo cache and a per-key lock so concurrent lookups
// for the same spec coalesce into one registry request (grounds npm.go's
// fetchPackageInfo/getFetchLock pattern).
func fetchPackageManifest(name string, rangeOrTag string) (info PackageManifest, err error) {
	if !validatePackageName(name) {
		return PackageManifest{}, fmt.Errorf("invalid package name: %s", name)
	}
	if cfg.BanList.IsPackageBanned(name) {
		return PackageManifest{}, fmt.Errorf("package '%s' is banned", name)
	}
	if !cfg.AllowList.IsPackageAllowed(name) {
		return PackageManifest{}, fmt.Errorf("package '%s' is not in the allow list", name)
	}

	version := rangeOrTag
	if strings.HasPrefix(version, "=") || strings.HasPrefix(version, "v") {
		version = version[1:]
	}
	if version == "" {
		version = "latest"
	}
	isExact := regexpFullVersion.MatchString(version)

	cacheKey := fmt.Sprintf("npm:%s@%s", name, version)
	lock := getFetchLock(cacheKey)
	lock.Lock()
	defer lock.Unlock()

	if manifestMemo != nil {
		if v, ok := manifestMemo.Get(cacheKey); ok {
			return v.(PackageManifest), nil
		}
	}

	registryURL := cfg.NpmRegistry + name
	if reg, ok := scopedRegistryFor(name); ok {
		registryURL = reg.Registry + name
	}
	if isExact {
		registryURL += "/" + version
	}

	target, err := url.Parse(registryURL)
	if err != nil {
		return
	}

	header := http.Header{}
	if cfg.NpmToken != "" {
		header.Set("Authorization", "Bearer "+cfg.NpmToken)
	} else if cfg.NpmUser != "" && cfg.NpmPassword != "" {
		header.Set("Authorization", "Basic "+basicAuth(cfg.NpmUser, cfg.NpmPassword))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, recycle := fetch.NewClient("modcdn", 30)
	defer recycle()
	resp, err := client.Fetch(ctx, target, header)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 || resp.StatusCode == 401 {
		err = fmt.Errorf("package '%s' not found", name)
		return
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("registry error for '%s' (%s): %s", name, resp.Status, string(body))
		return
	}

	if isExact {
		err = json.NewDecoder(resp.Body).Decode(&info)
		if err == nil {
			info, err = applyVersionFixup(info)
		}
		if err == nil && manifestMemo != nil {
			manifestMemo.SetWithTTL(cacheKey, info, 1, 24*time.Hour)
		}
		return
	}

	var versions npmPackageVersions
	if err = json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return
	}
	if len(versions.Versions) == 0 {
		err = fmt.Errorf("no versions found for '%s'", name)
		return
	}

	if distVersion, ok := versions.DistTags[version]; ok {
		info = versions.Versions[distVersion]
	} else {
		info, err = resolveBySemverRange(name, version, versions.Versions)
		if err != nil {
			return
		}
	}

	if info.Version == "" {
		err = fmt.Errorf("version '%s' of '%s' not found", version, name)
		return
	}
	info, err = applyVersionFixup(info)
	if err == nil && manifestMemo != nil {
		manifestMemo.SetWithTTL(cacheKey, info, 1, 10*time.Minute)
	}
	return
}

func resolveBySemverRange(name, rng string, versions map[string]PackageManifest) (PackageManifest, error) {
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		if rng != "latest" {
			return fetchPackageManifest(name, "latest")
		}
		return PackageManifest{}, err
	}
	var matches []*semver.Version
	allowPrerelease := strings.ContainsRune(rng, '-')
	for v := range versions {
		if !allowPrerelease && strings.ContainsRune(v, '-') {
			continue
		}
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if constraint.Check(sv) {
			matches = append(matches, sv)
		}
	}
	if len(matches) == 0 {
		return PackageManifest{}, fmt.Errorf("no version of '%s' satisfies '%s'", name, rng)
	}
	sort.Sort(semver.Collection(matches))
	return versions[matches[len(matches)-1].String()], nil
}

func applyVersionFixup(info PackageManifest) (PackageManifest, error) {
	for prefix, ver := range fixedPkgVersions {
		if strings.HasPrefix(info.Name+"@"+info.Version, prefix) {
			return fetchPackageManifest(info.Name, ver)
		}
	}
	return info, nil
}

func scopedRegistryFor(name string) (NpmRegistry, bool) {
	if !strings.HasPrefix(name, "@") {
		return NpmRegistry{}, false
	}
	scope, _ := utils.SplitByFirstByte(name, '/')
	reg, ok := cfg.NpmScopedRegistries[scope]
	return reg, ok
}

// validatePackageName implements npm's own naming validator.
func validatePackageName(name string) bool {
	scope := ""
	rest := name
	if strings.HasPrefix(name, "@") {
		scope, rest = utils.SplitByFirstByte(name, '/')
		scope = scope[1:]
	}
	if scope != "" && !npmNaming.Is(scope) {
		return false
	}
	if rest == "" || !npmNaming.Is(rest) || len(name) > 214 {
		return false
	}
	return true
}
