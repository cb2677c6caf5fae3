package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/schema"
)

const captionDateLayout = "02.01.2006 15:04"

// Render builds the notification text and its formatting entities: the title
// becomes a link to the ad, the price line is bold. Entity offsets are in
// UTF-16 code units, as the Bot API requires.
func Render(l *model.Listing) (string, []tgbotapi.MessageEntity) {
	var b strings.Builder
	var entities []tgbotapi.MessageEntity

	b.WriteString(l.Title)
	if l.URL != "" {
		entities = append(entities, tgbotapi.MessageEntity{
			Type:   "text_link",
			Offset: 0,
			Length: utf16Len(l.Title),
			URL:    l.URL,
		})
	}

	price := fmt.Sprintf("€%d", l.Price)
	if l.PriceLowered != nil {
		price += fmt.Sprintf(" (lowered from €%d)", l.PriceLowered.Old)
	}
	b.WriteString("\n")
	entities = append(entities, tgbotapi.MessageEntity{
		Type:   "bold",
		Offset: utf16Len(l.Title) + 1,
		Length: utf16Len(price),
	})
	b.WriteString(price)

	fmt.Fprintf(&b, "\n%s", l.PostedAt.Format(captionDateLayout))
	if l.Distance > 0 {
		fmt.Fprintf(&b, "\n%.1f km", l.Distance)
	}
	if l.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(l.Description)
	}

	if sc, ok := schema.Get(l.Category); ok {
		for _, name := range sc.Caption {
			attr, ok := l.Attrs[name]
			if !ok {
				continue
			}
			if f, ok := sc.Field(name); ok && f.Numeric() {
				fmt.Fprintf(&b, "\n%s: %d", name, attr.Num)
			} else {
				fmt.Fprintf(&b, "\n%s: %s", name, attr.Text)
			}
		}
	}

	return b.String(), entities
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
