package server

import "testing"

func TestSplitPkgSegment(t *testing.T) {
	registry, name, version, subpath, err := splitPkgSegment("/left-pad@1.3.0/index.js")
	if err != nil {
		t.Fatal(err)
	}
	if registry != "npm" || name != "left-pad" || version != "1.3.0" || subpath != "./index.js" {
		t.Fatalf("got %q %q %q %q", registry, name, version, subpath)
	}

	registry, name, version, subpath, err = splitPkgSegment("/@babel/core@7.22.0/lib/index.js")
	if err != nil {
		t.Fatal(err)
	}
	if registry != "npm" || name != "@babel/core" || version != "7.22.0" || subpath != "./lib/index.js" {
		t.Fatalf("got %q %q %q %q", registry, name, version, subpath)
	}

	registry, name, version, subpath, err = splitPkgSegment("/github/preact@10.0.0/dist/preact.js")
	if err != nil {
		t.Fatal(err)
	}
	if registry != "github" || name != "preact" || version != "10.0.0" || subpath != "./dist/preact.js" {
		t.Fatalf("got %q %q %q %q", registry, name, version, subpath)
	}
}

func TestDecodeRawDefaultsToLatest(t *testing.T) {
	rc, canonical, err := decode("/left-pad")
	if err != nil {
		t.Fatal(err)
	}
	if canonical {
		t.Fatal("expected raw form")
	}
	if rc.Version != "latest" || rc.Subpath != "." {
		t.Fatalf("got version=%q subpath=%q", rc.Version, rc.Subpath)
	}
}

func TestDecodeRawSvelteFlag(t *testing.T) {
	rc, _, err := decode("/my-component@1.0.0/App.svelte?svelte")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := rc.flag("svelte"); !ok || v != "latest" {
		t.Fatalf("expected bare svelte flag to default to latest, got %q ok=%v", v, ok)
	}

	rc, _, err = decode("/my-component@1.0.0/App.svelte?svelte=4")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := rc.flag("svelte"); !ok || v != "4" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
}

func TestDecodeRawMetadataFlagDropsFalsy(t *testing.T) {
	for _, v := range []string{"false", "0", "null"} {
		rc, _, err := decode("/left-pad@1.3.0/?metadata=" + v)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := rc.flag("metadata"); ok {
			t.Fatalf("metadata=%s should be dropped", v)
		}
	}
}

func TestDecodeCanonicalRoundTrip(t *testing.T) {
	canonical := "/npm/left-pad@1.3.0/index.js!!cdnv:pre.1"
	rc, wasCanonical, err := decode(canonical)
	if err != nil {
		t.Fatal(err)
	}
	if !wasCanonical {
		t.Fatal("expected canonical form recognized")
	}
	if got := encode(rc); got != canonical {
		t.Fatalf("round trip mismatch: got %q want %q", got, canonical)
	}
}

func TestEncodeFlagsSortedByAlias(t *testing.T) {
	rc := &RequestConfig{
		Registry: "npm",
		Name:     "my-component",
		Version:  "1.0.0",
		Subpath:  "./App.js",
		Flags:    map[string]string{"metadata": "1", "svelte": "4.0.0"},
	}
	got := encode(rc)
	want := "/npm/my-component@1.0.0/App.js!!cdnv:pre.1;md:1;s:4.0.0"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	resolveVersion := func(name, rangeOrTag string) (string, error) { return "1.3.0", nil }
	resolveSubpath := func(rc *RequestConfig) (string, error) { return "./index.js", nil }

	first, _, _, err := canonicalize("/left-pad", resolveVersion, resolveSubpath)
	if err != nil {
		t.Fatal(err)
	}
	second, _, wasCanonical, err := canonicalize(first, resolveVersion, resolveSubpath)
	if err != nil {
		t.Fatal(err)
	}
	if !wasCanonical {
		t.Fatal("second pass should recognize canonical form")
	}
	if first != second {
		t.Fatalf("canonicalize not idempotent: %q != %q", first, second)
	}
}

func TestInvalidPackageNameRejected(t *testing.T) {
	if _, _, _, _, err := splitPkgSegment("/ /index.js"); err == nil {
		t.Fatal("expected error for invalid package name")
	}
}
