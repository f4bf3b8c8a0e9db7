package server

import (
	"strings"
	"testing"
)

func TestRewriteModuleRewritesStaticAndDynamicImports(t *testing.T) {
	src := `import foo from "foo";
import { bar } from "bar/sub";
export { baz } from "./baz.js";
const mod = await import("dynamic-dep");
`
	resolve := func(specifier string) (string, bool) {
		switch specifier {
		case "foo":
			return "/npm/foo@1.0.0/index.js!!cdnv:pre.1", true
		case "bar/sub":
			return "/npm/bar@2.0.0/sub.js!!cdnv:pre.1", true
		case "dynamic-dep":
			return "/npm/dynamic-dep@1.0.0/index.js!!cdnv:pre.1", true
		default:
			return "", false
		}
	}

	got, discovered, err := rewriteModule(src, "index.js", resolve)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"/npm/foo@1.0.0/index.js!!cdnv:pre.1"`,
		`"/npm/bar@2.0.0/sub.js!!cdnv:pre.1"`,
		`"/npm/dynamic-dep@1.0.0/index.js!!cdnv:pre.1"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("rewritten source missing %s, got:\n%s", want, got)
		}
	}
	// relative specifier left untouched because resolve() rejects it
	if !strings.Contains(got, `"./baz.js"`) {
		t.Fatalf("unresolved specifier should pass through untouched, got:\n%s", got)
	}
	if len(discovered) != 3 {
		t.Fatalf("expected 3 discovered edges, got %d: %v", len(discovered), discovered)
	}
}

func TestRewriteModuleSkipsDeclarationFiles(t *testing.T) {
	src := `import type { Foo } from "foo";`
	got, discovered, err := rewriteModule(src, "index.d.ts", func(string) (string, bool) { return "nope", true })
	if err != nil {
		t.Fatal(err)
	}
	if got != src {
		t.Fatalf("declaration files should pass through unmodified, got %q", got)
	}
	if discovered != nil {
		t.Fatalf("expected no discovered edges for a declaration file, got %v", discovered)
	}
}

func TestRewriteModuleDedupsRepeatedSpecifier(t *testing.T) {
	src := `import a from "same-dep";
import b from "same-dep";
`
	calls := 0
	resolve := func(specifier string) (string, bool) {
		calls++
		return "/npm/same-dep@1.0.0/index.js!!cdnv:pre.1", true
	}
	_, discovered, err := rewriteModule(src, "index.js", resolve)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected resolve to be called once for a repeated specifier, got %d calls", calls)
	}
	if len(discovered) != 1 {
		t.Fatalf("expected one discovered edge, got %d", len(discovered))
	}
}

func TestSplitBareSpecifier(t *testing.T) {
	cases := []struct {
		in       string
		wantName string
		wantSub  string
	}{
		{"left-pad", "left-pad", "."},
		{"left-pad/lib/index.js", "left-pad", "./lib/index.js"},
		{"@babel/core", "@babel/core", "."},
		{"@babel/core/lib/index.js", "@babel/core", "./lib/index.js"},
	}
	for _, c := range cases {
		name, sub := splitBareSpecifier(c.in)
		if name != c.wantName || sub != c.wantSub {
			t.Errorf("splitBareSpecifier(%q) = (%q, %q), want (%q, %q)", c.in, name, sub, c.wantName, c.wantSub)
		}
	}
}
