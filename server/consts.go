package server

import logx "github.com/ije/gox/log"

// log is the process-wide logger, replaced by Serve() once config is
// loaded; orchestrator and queue code log through it rather
// than through fmt so a single file/level configuration governs all of
// them.
var log = &logx.Logger{}

// buildVersion is the cache-invalidating engine revision embedded as
// `cdnv:<build>` in every canonical URL. Bump it whenever the rewriter,
// resolver, or recognized-flag table changes shape.
const buildVersion = "pre.1"

// flagAliases is the closed, registered flag set from the canonical
// URL grammar: key -> short alias. Any flag not listed here is
// dropped during decode/encode.
var flagAliases = map[string]string{
	"svelte":   "s",
	"metadata": "md",
}

// aliasToFlag is the inverse lookup, built once from flagAliases.
var aliasToFlag = func() map[string]string {
	m := make(map[string]string, len(flagAliases))
	for k, v := range flagAliases {
		m[v] = k
	}
	return m
}()

const emptyModuleDataURL = "data:text/javascript,export {}"

