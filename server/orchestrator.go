package server

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/ije/rex"
)

var queue *buildQueue
var prefetch *prefetchQueue
var serverStartTime time.Time

func initOrchestrator() {
	queue = newBuildQueue(cfg.BuildConcurrency)
	prefetch = newPrefetchQueue(int(cfg.BuildConcurrency), func(canonicalURL string) {
		handleCanonical(canonicalURL, true)
	})
	serverStartTime = time.Now()
}

// esmHandler implements the Request Orchestrator (§4.8): the single
// entry point composing URL decode/canonicalize, the cache, the
// installer, the subpath resolver, the compiler registry, and the
// rewriter. Grounds the shape of esmRouter's top-level dispatch, cut
// down to the operations this service actually performs.
func esmHandler() rex.Handle {
	if queue == nil {
		initOrchestrator()
	}
	return func(ctx *rex.Context) any {
		pathname := ctx.R.URL.Path
		if pathname == "/" {
			return "Hello"
		}
		if pathname == "/favicon.ico" {
			return rex.NoContent()
		}
		if pathname == "/status.json" {
			return statusJSON()
		}

		rawURL := pathname
		if ctx.R.URL.RawQuery != "" {
			rawURL += "?" + ctx.R.URL.RawQuery
		}

		canonicalPath, rc, wasCanonical, err := canonicalize(rawURL, resolveVersion, func(rc *RequestConfig) (string, error) {
			return resolveRequestSubpath(rc)
		})
		if err != nil {
			return errResponse(err)
		}

		if !wasCanonical {
			return rex.Redirect(canonicalPath, http.StatusTemporaryRedirect)
		}

		if inFlight.Has(canonicalPath) && isPrefetch(ctx) {
			return rex.NoContent()
		}

		body, err := buildAndCache(canonicalPath, rc)
		if err != nil {
			return errResponse(err)
		}

		gz, err := gzipBytes(body)
		if err != nil {
			return errResponse(newError(KindCacheWriteFailure, canonicalPath, err))
		}
		ctx.SetHeader("Content-Type", "application/javascript")
		ctx.SetHeader("Content-Encoding", "gzip")
		if v, ok := rc.flag("metadata"); ok && v != "" && v != "false" && v != "0" {
			ctx.SetHeader("X-Esm-Metadata", rc.Name+"@"+rc.Version)
		}
		return gz
	}
}

// statusJSON implements the liveness/introspection endpoint (§6
// supplement), grounded on router.go's /status.json case but reporting
// this orchestrator's narrower buildQueue/buildTask shape.
func statusJSON() any {
	queue.lock.RLock()
	defer queue.lock.RUnlock()

	tasks := make([]map[string]any, 0, queue.order.Len())
	for el := queue.order.Front(); el != nil; el = el.Next() {
		t, ok := el.Value.(*buildTask)
		if !ok {
			continue
		}
		tasks = append(tasks, map[string]any{
			"key":         t.key,
			"waitClients": len(t.waitChans),
			"startedAt":   t.startedAt.Format(http.TimeFormat),
		})
	}
	return map[string]any{
		"uptime": time.Since(serverStartTime).String(),
		"queue":  tasks,
	}
}

func isPrefetch(ctx *rex.Context) bool {
	return ctx.R.Header.Get("X-Follow-Up") == "1"
}

// resolveRequestSubpath wires the subpath resolver to the installer: it
// must have an installed copy of the package on disk before it can
// probe the filesystem branch of resolveSubpath (§4.4 step 4).
func resolveRequestSubpath(rc *RequestConfig) (string, error) {
	manifest, err := fetchPackageManifest(rc.Name, rc.Version)
	if err != nil {
		return "", newError(KindVersionUnresolvable, rc.Name+"@"+rc.Version, err)
	}
	rc.PackageManifest = &manifest

	installDir, err := ensureInstalled(rc.Name, rc.Version)
	if err != nil {
		return "", err
	}
	rc.InstallDir = installDir

	pkgRoot := path.Join(installDir, "node_modules", rc.Name)
	return resolveSubpath(&manifest, rc.Subpath, pkgRoot)
}

// buildAndCache implements §4.8 step 5/6: serve from the durable cache
// on a hit, otherwise single-flight the install/resolve/compile/rewrite
// pipeline through the build queue and store the result.
func buildAndCache(canonicalPath string, rc *RequestConfig) ([]byte, error) {
	if cached, err := cacheStore.Get(canonicalPath); err == nil {
		return cached, nil
	}

	inFlight.Add(canonicalPath)
	defer inFlight.Remove(canonicalPath)

	out := <-queue.Add(canonicalPath, func() ([]byte, error) {
		return runBuild(canonicalPath, rc)
	})
	return out.body, out.err
}

func runBuild(canonicalPath string, rc *RequestConfig) ([]byte, error) {
	if rc.PackageManifest == nil {
		manifest, err := fetchPackageManifest(rc.Name, rc.Version)
		if err != nil {
			return nil, newError(KindVersionUnresolvable, rc.Name+"@"+rc.Version, err)
		}
		rc.PackageManifest = &manifest
	}
	if rc.InstallDir == "" {
		installDir, err := ensureInstalled(rc.Name, rc.Version)
		if err != nil {
			return nil, err
		}
		rc.InstallDir = installDir
	}

	pkgRoot := path.Join(rc.InstallDir, "node_modules", rc.Name)
	filename := path.Join(pkgRoot, strings.TrimPrefix(rc.Subpath, "./"))
	if !existsFile(filename) {
		return nil, newError(KindFileNotFound, filename, nil)
	}

	source, err := readFileLimited(filename)
	if err != nil {
		return nil, newError(KindFileNotFound, filename, err)
	}

	code := string(source)
	if v, ok := rc.flag("svelte"); ok && v != "" && strings.HasSuffix(filename, ".svelte") {
		compiled, err := compileSvelte(v, code, compileOptions{Name: rc.Name, Filename: filename, Dev: false})
		if err != nil {
			// CompileError degrades to pass-through, §7
			log.Errorf("compile %s: %v", filename, err)
		} else {
			code = compiled
		}
	}

	rewritten, discovered, err := rewriteModule(code, filename, func(specifier string) (string, bool) {
		return resolveModuleSpecifier(rc, specifier)
	})
	if err != nil {
		log.Errorf("rewrite %s: %v", filename, err)
		rewritten = code
	}

	if err := cacheStore.Set(canonicalPath, []byte(rewritten), 0); err != nil {
		log.Errorf("cache store %s: %v", canonicalPath, err)
	}

	for _, edge := range discovered {
		prefetch.Enqueue(edge)
	}

	return []byte(rewritten), nil
}

// handleCanonical drives a build for a canonical URL discovered by the
// rewriter, decoding it back into a RequestConfig before reusing the
// same build path a client request would take.
func handleCanonical(canonicalURL string, isFollowUp bool) {
	rc, _, err := decode(canonicalURL)
	if err != nil {
		return
	}
	if inFlight.Has(canonicalURL) {
		return
	}
	_, _ = buildAndCache(canonicalURL, rc)
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(b); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func errResponse(err error) any {
	e, ok := err.(*Error)
	if !ok {
		return rex.Err(http.StatusInternalServerError, err.Error())
	}
	return rex.Err(httpStatus(e.Kind), fmt.Sprintf("%s: %s", e.Kind, e.Message))
}
