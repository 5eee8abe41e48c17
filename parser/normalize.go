package parser

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// PlaceholderPrice is stored when a feed carries no usable price.
const PlaceholderPrice = 0.0

// DefaultAmazonSite is the storefront used for affiliate links.
const DefaultAmazonSite = "https://www.amazon.com"

var (
	priceNumber = regexp.MustCompile(`\d*[.,]?\d[\d.,]*`)
	asinInLink  = regexp.MustCompile(`(?i)(?:/dp/|/gp/product/|/gp/aw/d/|/product/|/ASIN/)([A-Z0-9]{10})(?:[/?#&]|$)`)
	asinExact   = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	imgSrc      = regexp.MustCompile(`(?i)<img[^>]+src\s*=\s*["']([^"']+)["']`)
)

// NormalizePrice parses marketplace and feed prices such as "$1,299.99", "19,99 EUR",
// "$.99" or "12.50 - 15.00" (first number wins). A lone comma followed by one or
// two digits is a decimal mark. ok is false when no number is present.
func NormalizePrice(raw string) (float64, bool) {
	match := priceNumber.FindString(strings.TrimSpace(raw))
	if match == "" {
		return 0, false
	}
	match = strings.TrimRight(match, ".,")
	if match[0] == '.' || match[0] == ',' {
		match = "0" + match
	}

	switch {
	case strings.Contains(match, ".") && strings.Contains(match, ","):
		if strings.LastIndex(match, ",") > strings.LastIndex(match, ".") {
			// 1.299,99
			match = strings.ReplaceAll(match, ".", "")
			match = strings.ReplaceAll(match, ",", ".")
		} else {
			match = strings.ReplaceAll(match, ",", "")
		}
	case strings.Contains(match, ","):
		decimals := len(match) - strings.LastIndex(match, ",") - 1
		if strings.Count(match, ",") == 1 && (decimals == 1 || decimals == 2) {
			match = strings.Replace(match, ",", ".", 1)
		} else {
			match = strings.ReplaceAll(match, ",", "")
		}
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// PriceCents rounds a price to integer cents.
func PriceCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

// ToleranceCents truncates a tolerance to whole cents, so 0.015 allows one
// cent and never two.
func ToleranceCents(tolerance float64) int64 {
	if tolerance <= 0 {
		return 0
	}
	// 1e-6 absorbs float noise such as 0.29*100 = 28.999999999999996.
	return int64(math.Floor(tolerance*100 + 1e-6))
}

// ExtractASIN pulls the 10-character item id out of an Amazon product link.
func ExtractASIN(link string) (string, bool) {
	m := asinInLink.FindStringSubmatch(link)
	if len(m) < 2 {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// IsASIN reports whether s is shaped like an ASIN.
func IsASIN(s string) bool {
	return asinExact.MatchString(s)
}

// LinkBuilder renders canonical affiliate links.
type LinkBuilder struct {
	SiteURL string
	Tag     string
}

// Link returns the canonical affiliate link for asin.
func (b LinkBuilder) Link(asin string) string {
	site := strings.TrimRight(b.SiteURL, "/")
	if site == "" {
		site = DefaultAmazonSite
	}
	link := fmt.Sprintf("%s/dp/%s", site, asin)
	if b.Tag != "" {
		link += "?tag=" + url.QueryEscape(b.Tag)
	}
	return link
}

func imageFromHTML(html string) string {
	m := imgSrc.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
