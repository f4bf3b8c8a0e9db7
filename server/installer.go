package server

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

var installLocks sync.Map

func getInstallLock(key string) *sync.Mutex {
	v, _ := installLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ensureInstalled implements the Installer (§4.3): guarantee that
// packages/<name>@<version>/node_modules/<name>/ exists, single-flighted
// per (name, version) across the process so concurrent callers share one
// install (grounds npm.go's installPackage/getInstallLock).
func ensureInstalled(name, version string) (installDir string, err error) {
	versionName := name + "@" + version
	lock := getInstallLock(versionName)
	lock.Lock()
	defer lock.Unlock()

	installDir = path.Join(cfg.WorkDir, "packages", versionName)
	lockfile := path.Join(installDir, "node_modules", ".modcdn-lock")
	if existsFile(lockfile) {
		return installDir, nil
	}

	if err = ensureDir(installDir); err != nil {
		return "", newError(KindInstallFailed, versionName, err)
	}

	manifest := fmt.Sprintf(`{"dependencies":{%q:%q}}`, name, version)
	if err = os.WriteFile(path.Join(installDir, "package.json"), []byte(manifest), 0644); err != nil {
		return "", newError(KindInstallFailed, versionName, err)
	}

	if err = pnpmInstall(installDir); err != nil {
		return "", newError(KindInstallFailed, versionName, err)
	}

	pkgDir := path.Join(installDir, "node_modules", name)
	if !existsFile(path.Join(pkgDir, "package.json")) {
		return "", newError(KindInstallFailed, versionName, fmt.Errorf("node_modules/%s/package.json not found after install", name))
	}

	if err = os.WriteFile(lockfile, []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
		return "", newError(KindInstallFailed, versionName, err)
	}
	return installDir, nil
}

func pnpmInstall(wd string, extraArgs ...string) error {
	args := append([]string{"install", "--ignore-scripts", "--production", "--loglevel", "error"}, extraArgs...)
	cmd := exec.Command("pnpm", args...)
	cmd.Dir = wd
	if cfg.NpmToken != "" {
		cmd.Env = append(os.Environ(), "MODCDN_NPM_TOKEN="+cfg.NpmToken)
	}
	if cfg.NpmUser != "" && cfg.NpmPassword != "" {
		password := make([]byte, base64.StdEncoding.EncodedLen(len(cfg.NpmPassword)))
		base64.StdEncoding.Encode(password, []byte(cfg.NpmPassword))
		cmd.Env = append(os.Environ(), "MODCDN_NPM_USER="+cfg.NpmUser, "MODCDN_NPM_PASSWORD="+string(password))
	}
	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pnpm install: %s", strings.TrimSpace(string(output)))
	}
	_ = start // the install duration is not logged
	return nil
}

// ensureCompilerInstalled installs a version-pinned compiler package
// (e.g. svelte@4.0.0) into its own dedicated workspace, distinct from
// package install trees, mirroring loader.go's runLoader setup step.
func ensureCompilerInstalled(pkgID string, extraDeps ...string) (wd string, err error) {
	lock := getInstallLock("compiler:" + pkgID)
	lock.Lock()
	defer lock.Unlock()

	wd = path.Join(cfg.WorkDir, "compilers", utils.CleanPath(pkgID))
	lockfile := path.Join(wd, ".modcdn-lock")
	if existsFile(lockfile) {
		return wd, nil
	}
	if err = ensureDir(wd); err != nil {
		return "", err
	}
	if err = os.WriteFile(path.Join(wd, "package.json"), []byte("{}"), 0644); err != nil {
		return "", err
	}
	if err = pnpmInstall(wd, append([]string{"--prefer-offline", pkgID}, extraDeps...)...); err != nil {
		return "", err
	}
	return wd, os.WriteFile(lockfile, []byte(time.Now().UTC().Format(time.RFC3339)), 0644)
}
