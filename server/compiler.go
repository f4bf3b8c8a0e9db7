package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"sync"
	"time"
)

// compileThunk is a lazy, idempotent loader for one compiler version: the
// first call installs the version-pinned package and caches the result
// for the remaining process lifetime (grounds loader.go's runLoader,
// which installs its helper package into a dedicated store dir on first
// use and re-execs a node subprocess afterwards).
type compileThunk struct {
	once sync.Once
	wd   string
	err  error
}

var (
	svelteThunks   sync.Map // version string -> *compileThunk
	svelteLoaderJS = []byte(`
const svelteCompiler = require('svelte/compiler');
const compile = svelteCompiler.compile || (svelteCompiler.default && svelteCompiler.default.compile);
let input = '';
process.stdin.on('data', (c) => input += c);
process.stdin.on('end', () => {
	try {
		const [name, filename, code, dev] = JSON.parse(input);
		const result = compile(code, { name, filename, dev: !!dev, css: 'injected' });
		process.stdout.write(JSON.stringify({ code: result.js.code }));
	} catch (e) {
		process.stdout.write(JSON.stringify({ error: String(e && e.message || e) }));
	}
});
`)
)

// compileOptions is the closed options record passed to a compiler
// thunk; the engine never forwards unrecognized keys.
type compileOptions struct {
	Name     string
	Filename string
	Dev      bool
}

type compileResult struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// compileSvelte implements the Compiler Registry (§4.5) for the one
// compiler this service wires up: lazily installs svelte@version into
// its own workspace, then shells out to a small node loader script that
// normalizes the compile() shape (newer svelte exposes a named `compile`
// export, older builds `default.compile`; the loader accepts either and
// always returns `{code}`).
func compileSvelte(version, source string, opts compileOptions) (string, error) {
	v, _ := svelteThunks.LoadOrStore(version, &compileThunk{})
	thunk := v.(*compileThunk)
	thunk.once.Do(func() {
		thunk.wd, thunk.err = ensureCompilerInstalled("svelte@" + version)
		if thunk.err != nil {
			return
		}
		thunk.err = os.WriteFile(path.Join(thunk.wd, "svelte_loader.cjs"), svelteLoaderJS, 0644)
	})
	if thunk.err != nil {
		return "", newError(KindCompileError, "svelte@"+version, thunk.err)
	}

	stdin := bytes.NewBuffer(nil)
	if err := json.NewEncoder(stdin).Encode([]any{opts.Name, opts.Filename, source, opts.Dev}); err != nil {
		return "", newError(KindCompileError, opts.Filename, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	cmd := exec.CommandContext(ctx, "node", "svelte_loader.cjs")
	cmd.Dir = thunk.wd
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", newError(KindCompileError, opts.Filename, fmt.Errorf("%s", stderr.String()))
		}
		return "", newError(KindCompileError, opts.Filename, err)
	}

	var out compileResult
	if err := json.NewDecoder(stdout).Decode(&out); err != nil {
		return "", newError(KindCompileError, opts.Filename, err)
	}
	if out.Error != "" {
		return "", newError(KindCompileError, opts.Filename, errors.New(out.Error))
	}
	return out.Code, nil
}
