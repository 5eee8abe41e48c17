package parser

import "testing"

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{raw: "$19.99", want: 19.99, wantOK: true},
		{raw: " $1,299.99 ", want: 1299.99, wantOK: true},
		{raw: "19,99 EUR", want: 19.99, wantOK: true},
		{raw: "1.299,50", want: 1299.50, wantOK: true},
		{raw: "1,299", want: 1299, wantOK: true},
		{raw: "$12.50 - $15.00", want: 12.50, wantOK: true},
		{raw: "$.99", want: 0.99, wantOK: true},
		{raw: ",50 EUR", want: 0.50, wantOK: true},
		{raw: "19,9", want: 19.90, wantOK: true},
		{raw: "EUR 19,90", want: 19.90, wantOK: true},
		{raw: "1,299,000", want: 1299000, wantOK: true},
		{raw: "Item 4. Price", want: 4, wantOK: true},
		{raw: "", wantOK: false},
		{raw: "Currently unavailable", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := NormalizePrice(tt.raw)
		if ok != tt.wantOK {
			t.Fatalf("NormalizePrice(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
		}
		if ok && PriceCents(got) != PriceCents(tt.want) {
			t.Fatalf("NormalizePrice(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestPriceCents(t *testing.T) {
	if got := PriceCents(20.01) - PriceCents(19.99); got != 2 {
		t.Fatalf("cents difference = %d, want 2", got)
	}
	if got := PriceCents(0.1 + 0.2); got != 30 {
		t.Fatalf("PriceCents(0.3) = %d", got)
	}
}

func TestToleranceCents(t *testing.T) {
	tests := []struct {
		tolerance float64
		want      int64
	}{
		{tolerance: 0.01, want: 1},
		{tolerance: 0.015, want: 1},
		{tolerance: 0.019, want: 1},
		{tolerance: 0.29, want: 29},
		{tolerance: 0.07, want: 7},
		{tolerance: 0, want: 0},
		{tolerance: -1, want: 0},
	}
	for _, tt := range tests {
		if got := ToleranceCents(tt.tolerance); got != tt.want {
			t.Fatalf("ToleranceCents(%v) = %d, want %d", tt.tolerance, got, tt.want)
		}
	}
}

func TestExtractASIN(t *testing.T) {
	tests := []struct {
		link   string
		want   string
		wantOK bool
	}{
		{link: "https://www.amazon.com/dp/B08N5WRWNW?tag=pawfect-20", want: "B08N5WRWNW", wantOK: true},
		{link: "https://www.amazon.com/Some-Bowl/dp/b08n5wrwnw/ref=sr_1_1", want: "B08N5WRWNW", wantOK: true},
		{link: "https://amazon.com/gp/product/0316769487", want: "0316769487", wantOK: true},
		{link: "https://www.amazon.com/dp/B08N5WRWNW", want: "B08N5WRWNW", wantOK: true},
		{link: "https://www.amazon.com/s?k=dog+bed", wantOK: false},
		{link: "https://www.amazon.com/dp/SHORT", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ExtractASIN(tt.link)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ExtractASIN(%q) = %q,%v want %q,%v", tt.link, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLinkBuilder(t *testing.T) {
	b := LinkBuilder{SiteURL: "https://www.amazon.co.uk/", Tag: "pf uk"}
	if got := b.Link("B000000001"); got != "https://www.amazon.co.uk/dp/B000000001?tag=pf+uk" {
		t.Fatalf("link = %q", got)
	}
	if got := (LinkBuilder{}).Link("B000000001"); got != "https://www.amazon.com/dp/B000000001" {
		t.Fatalf("default link = %q", got)
	}
}
