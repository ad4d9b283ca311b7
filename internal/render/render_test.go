package render

import (
	"testing"

	"affiliates/internal/domain"
)

func TestElementImg(t *testing.T) {
	got := Element(domain.Pixel{
		Tag:        domain.TagImg,
		URL:        "http://net1.go2cloud.org/aff_l?offer_id=5&adv_sub=1001",
		Attributes: map[string]string{"style": "width:0; height:0;", "class": "hasoffers-affiliate"},
	})
	want := `<img src="http://net1.go2cloud.org/aff_l?offer_id=5&amp;adv_sub=1001" class="hasoffers-affiliate" style="width:0; height:0;">`
	if got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestMarkupIframeAndOrder(t *testing.T) {
	got := Markup([]domain.Pixel{
		{Tag: domain.TagIframe, URL: "https://a.test/?q=\"x\"", Attributes: map[string]string{"width": "1", "height": "1", "src": "ignored"}},
		{Tag: domain.TagImg, URL: "https://b.test/"},
	})
	want := `<iframe src="https://a.test/?q=&#34;x&#34;" height="1" width="1"></iframe>` + "\n" + `<img src="https://b.test/">`
	if got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}
	if Markup(nil) != "" {
		t.Fatalf("expected empty markup")
	}
}
