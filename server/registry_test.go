package server

import "testing"

func TestResolveBySemverRangePicksHighestSatisfying(t *testing.T) {
	versions := map[string]PackageManifest{
		"1.0.0": {Name: "left-pad", Version: "1.0.0"},
		"1.2.0": {Name: "left-pad", Version: "1.2.0"},
		"2.0.0": {Name: "left-pad", Version: "2.0.0"},
	}
	got, err := resolveBySemverRange("left-pad", "^1.0.0", versions)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.2.0" {
		t.Fatalf("got %q, want 1.2.0", got.Version)
	}
}

func TestResolveBySemverRangeExcludesPrereleaseByDefault(t *testing.T) {
	versions := map[string]PackageManifest{
		"1.0.0":     {Name: "foo", Version: "1.0.0"},
		"1.1.0-rc1": {Name: "foo", Version: "1.1.0-rc1"},
	}
	got, err := resolveBySemverRange("foo", ">=1.0.0", versions)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.0.0" {
		t.Fatalf("got %q, want prerelease excluded", got.Version)
	}
}

func TestResolveBySemverRangeAllowsPrereleaseWhenRangeNamesOne(t *testing.T) {
	versions := map[string]PackageManifest{
		"1.0.0":     {Name: "foo", Version: "1.0.0"},
		"1.1.0-rc1": {Name: "foo", Version: "1.1.0-rc1"},
	}
	got, err := resolveBySemverRange("foo", ">=1.1.0-rc0", versions)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.1.0-rc1" {
		t.Fatalf("got %q, want the prerelease to be eligible", got.Version)
	}
}

func TestResolveBySemverRangeNoMatch(t *testing.T) {
	versions := map[string]PackageManifest{
		"1.0.0": {Name: "foo", Version: "1.0.0"},
	}
	if _, err := resolveBySemverRange("foo", "^2.0.0", versions); err == nil {
		t.Fatal("expected no-match error")
	}
}

func TestApplyVersionFixupNoop(t *testing.T) {
	info := PackageManifest{Name: "left-pad", Version: "1.3.0"}
	got, err := applyVersionFixup(info)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.3.0" {
		t.Fatalf("expected no fixup applied, got %q", got.Version)
	}
}

func TestValidatePackageName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"left-pad", true},
		{"@babel/core", true},
		{"UPPER_CASE.name", true},
		{"", false},
		{"@scope-only", false},
		{"has a space", false},
		{"has/no/scope/prefix", false},
	}
	for _, c := range cases {
		if got := validatePackageName(c.name); got != c.want {
			t.Errorf("validatePackageName(%q) = %v, want %v", c.name, got, c.want)
		}
	}

	long := make([]byte, 215)
	for i := range long {
		long[i] = 'a'
	}
	if validatePackageName(string(long)) {
		t.Error("expected names over 214 characters to be rejected")
	}
}
