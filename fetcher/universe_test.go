package fetcher

import "testing"

func TestIssuerKeyShareClasses(t *testing.T) {
	if IssuerKey("GOOG", "") != IssuerKey("GOOGL", "") {
		t.Error("GOOG and GOOGL must share an issuer key")
	}
	if IssuerKey("BRK.B", "") != IssuerKey("BRK-A", "") {
		t.Error("BRK share classes must share an issuer key")
	}
	if IssuerKey("AAPL", "") == IssuerKey("MSFT", "") {
		t.Error("distinct issuers must not collide")
	}
}

func TestIssuerKeyNameSuffixes(t *testing.T) {
	a := IssuerKey("XYZ", "Example Corp Class A Common Stock")
	b := IssuerKey("XYZA", "Example Corp Class B Common Stock")
	if a != b {
		t.Errorf("class variants must collapse: %q vs %q", a, b)
	}
	c := IssuerKey("ABC", "Other Company Ordinary Shares")
	if a == c {
		t.Errorf("different companies must not collapse: %q", c)
	}
}

func TestDedupeByIssuerKeepsHighestRanked(t *testing.T) {
	rows := []UniverseEntry{
		{Symbol: "GOOGL", Name: "Alphabet Inc. Class A"},
		{Symbol: "GOOG", Name: "Alphabet Inc. Class C"},
		{Symbol: "MSFT", Name: "Microsoft Corp"},
	}
	out := dedupeByIssuer(rows, func(e UniverseEntry) UniverseEntry { return e })
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %#v", out)
	}
	if out[0].Symbol != "GOOGL" {
		t.Errorf("first listed share class must win, got %s", out[0].Symbol)
	}
}

func TestFallbackUniverse(t *testing.T) {
	entries := FallbackUniverse()
	if len(entries) != 100 {
		t.Fatalf("fallback list must hold 100 symbols, got %d", len(entries))
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		key := IssuerKey(e.Symbol, "")
		if seen[key] {
			t.Errorf("duplicate issuer in fallback list: %s", e.Symbol)
		}
		seen[key] = true
	}
}

func TestCompanyDisplayName(t *testing.T) {
	cases := map[string]string{
		"MICROSOFT CORPORATION":  "Microsoft Corporation",
		"Apple Inc.":             "Apple Inc.",
		"  nvidia   corporation": "Nvidia Corporation",
		"":                       "",
	}
	for in, want := range cases {
		if got := CompanyDisplayName(in); got != want {
			t.Errorf("CompanyDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}
