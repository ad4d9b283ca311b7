package render

import (
	"html"
	"sort"
	"strings"

	"affiliates/internal/domain"
)

// Element renders one pixel as an HTML element. src comes first, remaining
// attributes follow in name order. Iframes get an explicit closing tag.
func Element(px domain.Pixel) string {
	tag := px.Tag
	if tag != domain.TagIframe {
		tag = domain.TagImg
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(tag)
	writeAttr(&b, "src", px.URL)
	names := make([]string, 0, len(px.Attributes))
	for name := range px.Attributes {
		if name == "src" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeAttr(&b, name, px.Attributes[name])
	}
	b.WriteString(">")
	if tag == domain.TagIframe {
		b.WriteString("</iframe>")
	}
	return b.String()
}

// Markup renders pixels one element per line, in order.
func Markup(pixels []domain.Pixel) string {
	parts := make([]string, 0, len(pixels))
	for _, px := range pixels {
		parts = append(parts, Element(px))
	}
	return strings.Join(parts, "\n")
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(`="`)
	b.WriteString(html.EscapeString(value))
	b.WriteString(`"`)
}
