package server

import "testing"

func TestResolveSubpathLegacySvelteField(t *testing.T) {
	m := &PackageManifest{Svelte: "./src/index.js"}
	got, err := resolveSubpath(m, ".", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "./src/index.js" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveSubpathConditionalExports(t *testing.T) {
	m := &PackageManifest{
		Exports: map[string]any{
			".": map[string]any{
				"browser": "./browser.js",
				"default": "./index.js",
			},
			"./sub": "./lib/sub.js",
		},
	}
	got, err := resolveSubpath(m, ".", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "./browser.js" {
		t.Fatalf("got %q, expected the browser condition to win", got)
	}

	got, err = resolveSubpath(m, "./sub", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "./lib/sub.js" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveSubpathLegacyEntryFallsThroughToMain(t *testing.T) {
	m := &PackageManifest{Main: "./index.js"}
	got, err := resolveSubpath(m, ".", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "./index.js" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveSubpathFalseBrowserInlinesEmptyModule(t *testing.T) {
	m := &PackageManifest{Browser: StringOrMap{Map: map[string]any{".": false}}, Main: "./index.js"}
	got, err := resolveSubpath(m, ".", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != emptyModuleDataURL {
		t.Fatalf("got %q", got)
	}
}

func TestResolveSubpathNormalizesEntryPathMissingDotSlash(t *testing.T) {
	// left-pad's real package.json declares "main": "index.js", no "./".
	m := &PackageManifest{Main: "index.js"}
	got, err := resolveSubpath(m, ".", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "./index.js" {
		t.Fatalf("got %q, want a normalized \"./\" prefix", got)
	}
}

func TestResolveSubpathFallback(t *testing.T) {
	m := &PackageManifest{}
	got, err := resolveSubpath(m, "./whatever.js", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "./whatever.js" {
		t.Fatalf("got %q", got)
	}
}
