package affiliate

import (
	"regexp"
	"strings"

	"affiliates/internal/domain"
)

var (
	cssInvalidChars = regexp.MustCompile(`[^\x{002D}\x{0030}-\x{0039}\x{0041}-\x{005A}\x{005F}\x{0061}-\x{007A}\x{00A1}-\x{FFFF}]`)
	cssLeadingDigit = regexp.MustCompile(`^[0-9]`)
	cssLeadingDash  = regexp.MustCompile(`^(-[0-9])|^(--)`)
	cssFilter       = strings.NewReplacer(" ", "-", "_", "-", "/", "-", "[", "-", "]", "")
)

// CleanCSSIdentifier turns an id into a valid CSS class name ("hasoffers_affiliate"
// becomes "hasoffers-affiliate"). Double underscores are preserved.
func CleanCSSIdentifier(id string) string {
	hadDouble := strings.Contains(id, "__")
	if hadDouble {
		id = strings.ReplaceAll(id, "__", "##")
	}
	id = cssFilter.Replace(id)
	if hadDouble {
		id = strings.ReplaceAll(id, "##", "__")
	}
	id = cssInvalidChars.ReplaceAllString(id, "")
	id = cssLeadingDigit.ReplaceAllString(id, "_")
	return cssLeadingDash.ReplaceAllString(id, "__")
}

// hideElement adds the attributes that keep a pixel invisible.
func hideElement(tag string, attrs map[string]string) {
	switch tag {
	case domain.TagImg:
		attrs["style"] = "width:0; height:0;"
	case domain.TagIframe:
		attrs["height"] = "1"
		attrs["width"] = "1"
		attrs["frameborder"] = "0"
		attrs["scrolling"] = "no"
	}
}
