package server

import (
	"encoding/base64"
	"os"
	"regexp"
	"strings"
)

func basicAuth(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}

func readFileLimited(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

var regexpFullVersion = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w\.]+)?$`)

func isRelativeSpecifier(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || specifier == "." || specifier == ".."
}

func startsWith(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func endsWith(s string, suffixes ...string) bool {
	for _, x := range suffixes {
		if strings.HasSuffix(s, x) {
			return true
		}
	}
	return false
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); err != nil && os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func existsFile(filepath string) bool {
	fi, err := os.Lstat(filepath)
	return err == nil && !fi.IsDir()
}

func existsDir(dirpath string) bool {
	fi, err := os.Lstat(dirpath)
	return err == nil && fi.IsDir()
}
