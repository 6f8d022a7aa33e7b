package referral

import "testing"

func TestLinkRoundTrip(t *testing.T) {
	codes := []string{"ada", "42", "user name", "ómó-893", "x&y=z"}

	for _, code := range codes {
		link := BuildLink("https://optisage.com/ref", code)
		got, err := ParseLink(link)
		if err != nil {
			t.Fatalf("ParseLink(%q): %v", link, err)
		}
		if got != code {
			t.Errorf("round trip of %q = %q via %q", code, got, link)
		}
	}
}

func TestBuildLinkKeepsExistingQuery(t *testing.T) {
	link := BuildLink("https://optisage.com/ref?utm=share", "ada")
	code, err := ParseLink(link)
	if err != nil {
		t.Fatal(err)
	}
	if code != "ada" {
		t.Errorf("code = %q, want %q", code, "ada")
	}
}

func TestParseLinkWithoutCode(t *testing.T) {
	if _, err := ParseLink("https://optisage.com/ref"); err == nil {
		t.Error("expected error for link without ref parameter")
	}
}
