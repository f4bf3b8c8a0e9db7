package server

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"

	logx "github.com/ije/gox/log"
	"github.com/ije/gox/set"
	"github.com/ije/rex"

	"github.com/modcdn/modcdn/server/storage"
)

// cacheStore is the durable key/value cache backing the Cache component
// (§4.7): canonical URL path -> transformed source bytes.
var cacheStore storage.Cache

// Serve starts the HTTP server: loads config, opens the durable cache,
// wires the middleware chain, and blocks until a termination signal or
// a fatal server error.
func Serve() {
	var cfile string
	flag.StringVar(&cfile, "config", "config.json", "the config file path")
	flag.Parse()

	if existsFile(cfile) {
		loaded, err := LoadConfig(cfile)
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := ensureDir(cfg.LogDir); err != nil {
		fmt.Println("failed to create log dir:", err)
		os.Exit(1)
	}

	logger, err := logx.New(fmt.Sprintf("file:%s?buffer=32k&fileDateFormat=20060102", path.Join(cfg.LogDir, "server.log")))
	if err != nil {
		fmt.Println("failed to initialize logger:", err)
		os.Exit(1)
	}
	logger.SetLevelByName(cfg.LogLevel)
	log = logger
	storage.SetLogger(logger)

	accessLogger, err := logx.New(fmt.Sprintf("file:%s?buffer=32k&fileDateFormat=20060102", path.Join(cfg.LogDir, "access.log")))
	if err != nil {
		logger.Fatalf("failed to initialize access logger: %v", err)
	}
	accessLogger.SetQuite(true)

	cacheStore, err = storage.New(&cfg.Storage)
	if err != nil {
		logger.Fatalf("failed to initialize cache storage(%s): %v", cfg.Storage.Type, err)
	}
	logger.Debugf("cache storage initialized, type: %s, endpoint: %s", cfg.Storage.Type, cfg.Storage.Endpoint)

	initOrchestrator()

	rex.Use(
		rex.Header("Server", "modcdn"),
		cors(cfg.CorsAllowOrigins),
		rex.Logger(logger),
		rex.Optional(rex.AccessLogger(accessLogger), cfg.AccessLog),
		rex.Optional(rex.Compress(), cfg.Compress),
		esmHandler(),
	)

	C := rex.Serve(rex.ServerConfig{
		Port: cfg.Port,
	})
	logger.Infof("server is ready on http://localhost:%d", cfg.Port)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGABRT)
	select {
	case <-c:
	case err = <-C:
		logger.Error(err)
	}

	logger.FlushBuffer()
	accessLogger.FlushBuffer()
}

func cors(allowOrigins []string) rex.Handle {
	allowList := set.NewReadOnly(allowOrigins...)
	return func(ctx *rex.Context) any {
		origin := ctx.R.Header.Get("Origin")
		isOptionsMethod := ctx.R.Method == "OPTIONS"
		h := ctx.W.Header()
		if allowList.Len() > 0 {
			if origin != "" {
				if !allowList.Has(origin) {
					return rex.Status(403, "forbidden")
				}
				setCorsHeaders(h, isOptionsMethod, origin)
			} else if isOptionsMethod {
				return rex.Status(405, "method not allowed")
			}
			h.Add("Vary", "Origin")
		} else {
			setCorsHeaders(h, isOptionsMethod, "*")
		}
		if isOptionsMethod {
			return rex.NoContent()
		}
		return ctx.Next()
	}
}

func setCorsHeaders(h http.Header, isOptionsMethod bool, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	if isOptionsMethod {
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Max-Age", "86400")
	}
}
