package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/allprecisely/Ad-parser/internal/model"
)

func TestRender(t *testing.T) {
	l := &model.Listing{
		ID:          "100",
		Category:    model.CategoryRent,
		Price:       1000,
		Title:       "2 bedroom flat",
		Location:    "Limassol district, Germasogeia",
		Distance:    3.5,
		PostedAt:    time.Date(2024, 10, 20, 15, 11, 0, 0, time.UTC),
		URL:         "https://example.com/adv/100",
		Description: "Bright flat near the sea.",
		Attrs: map[string]model.Attr{
			"area":     model.NumAttr(85),
			"bedrooms": model.TextAttr("2"),
		},
		PriceLowered: &model.PriceDrop{Old: 1200, New: 1000},
	}

	text, entities := Render(l)

	for _, want := range []string{
		"2 bedroom flat",
		"€1000 (lowered from €1200)",
		"20.10.2024 15:11",
		"3.5 km",
		"Bright flat near the sea.",
		"area: 85",
		"bedrooms: 2",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("caption missing %q:\n%s", want, text)
		}
	}

	if len(entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(entities))
	}

	link := entities[0]
	if link.Type != "text_link" || link.Offset != 0 || link.URL != l.URL {
		t.Errorf("link entity = %+v", link)
	}
	if link.Length != len("2 bedroom flat") {
		t.Errorf("link length = %d, want %d", link.Length, len("2 bedroom flat"))
	}

	bold := entities[1]
	if bold.Type != "bold" {
		t.Errorf("bold entity = %+v", bold)
	}
	if bold.Offset != len("2 bedroom flat")+1 {
		t.Errorf("bold offset = %d, want %d", bold.Offset, len("2 bedroom flat")+1)
	}
}

func TestRenderMinimalListing(t *testing.T) {
	l := &model.Listing{
		ID:       "200",
		Category: model.CategoryCars,
		Price:    9500,
		Title:    "Toyota Yaris",
		PostedAt: time.Date(2024, 10, 20, 9, 0, 0, 0, time.UTC),
	}

	text, entities := Render(l)

	if strings.Contains(text, "lowered") {
		t.Errorf("unexpected price drop annotation:\n%s", text)
	}
	if strings.Contains(text, "km") {
		t.Errorf("unexpected distance line:\n%s", text)
	}
	// No URL, so only the bold price entity remains.
	if len(entities) != 1 || entities[0].Type != "bold" {
		t.Errorf("entities = %+v, want single bold", entities)
	}
}
