package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/modcdn/modcdn/server/storage"
)

var cfg *Config

// Config is the process-wide configuration, loaded once from a JSON
// file (flag -config) and normalized, with environment variables filling
// in fields the file leaves unset.
type Config struct {
	Port             uint16                 `json:"port"`
	WorkDir          string                 `json:"workDir"`
	CorsAllowOrigins []string               `json:"corsAllowOrigins"`
	AllowList        AllowList              `json:"allowList"`
	BanList          BanList                `json:"banList"`
	BuildConcurrency uint16                 `json:"buildConcurrency"`
	BuildWaitTime    uint16                 `json:"buildWaitTime"`
	Storage          storage.StorageOptions `json:"storage"`
	LogDir           string                 `json:"logDir"`
	LogLevel         string                 `json:"logLevel"`
	AccessLog        bool                   `json:"accessLog"`
	NpmRegistry      string                 `json:"npmRegistry"`
	NpmToken         string                 `json:"npmToken"`
	NpmUser          string                 `json:"npmUser"`
	NpmPassword      string                 `json:"npmPassword"`
	NpmScopedRegistries map[string]NpmRegistry `json:"npmScopedRegistries"`
	NpmQueryCacheTTL uint32                 `json:"npmQueryCacheTTL"`
	CompressRaw      json.RawMessage        `json:"compress"`
	Compress         bool                   `json:"-"`
}

type BanScope struct {
	Name     string   `json:"name"`
	Excludes []string `json:"excludes"`
}

type BanList struct {
	Packages []string   `json:"packages"`
	Scopes   []BanScope `json:"scopes"`
}

type AllowScope struct {
	Name string `json:"name"`
}

type AllowList struct {
	Packages []string     `json:"packages"`
	Scopes   []AllowScope `json:"scopes"`
}

// LoadConfig loads the config from the given JSON file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer file.Close()

	var c Config
	if err := json.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.WorkDir != "" && !filepath.IsAbs(c.WorkDir) {
		c.WorkDir, err = filepath.Abs(c.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("resolve work dir: %w", err)
		}
	}
	normalizeConfig(&c)
	return &c, nil
}

func DefaultConfig() *Config {
	c := &Config{}
	normalizeConfig(c)
	return c
}

func normalizeConfig(c *Config) {
	if c.Port == 0 {
		c.Port = 80
		if v := os.Getenv("MODCDN_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
				c.Port = uint16(p)
			}
		}
	}
	if c.WorkDir == "" {
		if v := os.Getenv("MODCDN_DIR"); v != "" && existsDir(v) {
			c.WorkDir = v
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				homeDir = "/tmp"
			}
			c.WorkDir = path.Join(homeDir, ".modcdn")
		}
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			origin := strings.TrimSpace(p)
			if origin == "" {
				continue
			}
			if u, err := url.Parse(origin); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
				c.CorsAllowOrigins = append(c.CorsAllowOrigins, u.Scheme+"://"+u.Host)
			}
		}
	}
	if c.BuildConcurrency == 0 {
		c.BuildConcurrency = uint16(runtime.NumCPU())
	}
	if c.BuildWaitTime == 0 {
		c.BuildWaitTime = 30
	}
	if c.Storage.Type == "" {
		t := os.Getenv("STORAGE_TYPE")
		if t == "" {
			t = "bolt"
		}
		c.Storage.Type = t
	}
	if c.Storage.Endpoint == "" {
		e := os.Getenv("STORAGE_ENDPOINT")
		if e == "" {
			e = c.WorkDir
		}
		c.Storage.Endpoint = e
	}
	if c.Storage.Region == "" {
		c.Storage.Region = os.Getenv("STORAGE_REGION")
	}
	if c.Storage.AccessKeyID == "" {
		c.Storage.AccessKeyID = os.Getenv("STORAGE_ACCESS_KEY_ID")
	}
	if c.Storage.SecretAccessKey == "" {
		c.Storage.SecretAccessKey = os.Getenv("STORAGE_SECRET_ACCESS_KEY")
	}
	if c.LogDir == "" {
		c.LogDir = path.Join(c.WorkDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv("LOG_LEVEL")
		if c.LogLevel == "" {
			c.LogLevel = "info"
		}
	}
	if !c.AccessLog {
		c.AccessLog = os.Getenv("ACCESS_LOG") == "true"
	}
	if c.NpmRegistry == "" {
		v := os.Getenv("NPM_REGISTRY")
		if v != "" {
			c.NpmRegistry = strings.TrimRight(v, "/") + "/"
		} else {
			c.NpmRegistry = npmRegistryDefault
		}
	} else {
		c.NpmRegistry = strings.TrimRight(c.NpmRegistry, "/") + "/"
	}
	if c.NpmToken == "" {
		c.NpmToken = os.Getenv("NPM_TOKEN")
	}
	if c.NpmUser == "" {
		c.NpmUser = os.Getenv("NPM_USER")
	}
	if c.NpmPassword == "" {
		c.NpmPassword = os.Getenv("NPM_PASSWORD")
	}
	if c.NpmQueryCacheTTL == 0 {
		c.NpmQueryCacheTTL = 600
		if v := os.Getenv("NPM_QUERY_CACHE_TTL"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i >= 0 {
				c.NpmQueryCacheTTL = uint32(i)
			}
		}
	}
	c.Compress = !(bytes.Equal(c.CompressRaw, []byte("false")) || os.Getenv("COMPRESS") == "false")
}

func extractPackageName(fullName string) (nameNoVersion string, scope string, nameNoScope string) {
	parts := strings.Split(fullName, "/")
	if strings.HasPrefix(fullName, "@") && len(parts) > 1 {
		scope = parts[0]
		nameNoScope = strings.Split(parts[1], "@")[0]
		nameNoVersion = scope + "/" + nameNoScope
	} else {
		nameNoScope = strings.Split(parts[0], "@")[0]
		nameNoVersion = nameNoScope
	}
	return
}

// IsPackageBanned checks the packages list first (highest priority),
// then the scopes list (which can exclude specific names).
func (b *BanList) IsPackageBanned(fullName string) bool {
	nameNoVersion, scope, nameNoScope := extractPackageName(fullName)
	for _, p := range b.Packages {
		if nameNoVersion == p {
			return true
		}
	}
	for _, s := range b.Scopes {
		if scope == s.Name {
			return !isExcluded(nameNoScope, s.Excludes)
		}
	}
	return false
}

// IsPackageAllowed is open (returns true for everything) when no rules
// are configured; otherwise a package must match a rule to pass.
func (a *AllowList) IsPackageAllowed(fullName string) bool {
	if len(a.Packages) == 0 && len(a.Scopes) == 0 {
		return true
	}
	nameNoVersion, scope, _ := extractPackageName(fullName)
	for _, p := range a.Packages {
		if nameNoVersion == p {
			return true
		}
	}
	for _, s := range a.Scopes {
		if scope == s.Name {
			return true
		}
	}
	return false
}

func isExcluded(name string, excludes []string) bool {
	for _, e := range excludes {
		if name == e {
			return true
		}
	}
	return false
}

func init() {
	cfg = DefaultConfig()
}
