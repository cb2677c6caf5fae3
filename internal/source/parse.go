package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/schema"
)

const (
	postedAtLayout = "02.01.2006 15:04"
	dayLayout      = "02.01.2006"
	maxImages      = 10
	maxDescription = 150
)

var (
	postedAtRe = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4} \d{2}:\d{2})`)
	// data-coords comes as "SRID=4326;POINT (33.055763 34.700778)",
	// longitude first.
	pointRe = regexp.MustCompile(`POINT \((\d+\.\d+) (\d+\.\d+)\)`)
)

func (s *Site) parseListingsPage(body []byte, cat model.Category, pageURL string) ([]model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listings page: %w", err)
	}

	list := doc.Find("ul.list-simple__output")
	if list.Length() == 0 {
		s.mistakes.Add("no announcement list on %s", pageURL)
		return nil, nil
	}
	items := list.Find("li.announcement-container")
	if items.Length() == 0 {
		s.mistakes.Add("no announcement containers on %s", pageURL)
		return nil, nil
	}

	now := s.now().UTC()
	var listings []model.Listing
	items.Each(func(_ int, li *goquery.Selection) {
		l, err := s.parseAnnouncement(li, cat, now)
		if err != nil {
			s.mistakes.Add("parse announcement on %s: %v", pageURL, err)
			return
		}
		listings = append(listings, l)
	})
	return listings, nil
}

func (s *Site) parseAnnouncement(li *goquery.Selection, cat model.Category, now time.Time) (model.Listing, error) {
	l := model.Listing{
		Category:  cat,
		FetchedAt: now,
		Attrs:     map[string]model.Attr{},
	}

	id, ok := li.Find("div.announcement-block__favorites").Attr("data-id")
	if !ok || id == "" {
		return l, errors.New("missing data-id")
	}
	l.ID = id

	postedAt, err := parsePostedAt(li.Find("div.announcement-block__date").Text(), now)
	if err != nil {
		return l, fmt.Errorf("ad %s: %w", id, err)
	}
	l.PostedAt = postedAt

	if href, ok := li.Find("a").First().Attr("href"); ok {
		l.URL = s.baseURL + href
	}
	if src, ok := li.Find("img").First().Attr("src"); ok && src != "" {
		l.Images = []string{src}
	}

	li.Find("meta").Each(func(_ int, meta *goquery.Selection) {
		content := strings.TrimSpace(meta.AttrOr("content", ""))
		switch meta.AttrOr("itemprop", "") {
		case "price":
			if v, err := strconv.ParseFloat(content, 64); err == nil {
				l.Price = int(v)
			}
		case "name":
			l.Title = content
		case "areaServed":
			l.Location = content
		}
	})

	if l.Title == "" {
		return l, fmt.Errorf("ad %s: missing name", id)
	}
	if l.Price < 0 {
		return l, fmt.Errorf("ad %s: negative price %d", id, l.Price)
	}
	return l, nil
}

// parsePostedAt extracts the posting time from the date block, which looks
// like "22.10.2022 15:11,\n Limassol district, Germasogeia" and may use
// Today/Yesterday instead of a date.
func parsePostedAt(text string, now time.Time) (time.Time, error) {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.ReplaceAll(line, "Today", now.Format(dayLayout))
	line = strings.ReplaceAll(line, "Yesterday", now.AddDate(0, 0, -1).Format(dayLayout))

	m := postedAtRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, fmt.Errorf("wrong date format %q", line)
	}
	return time.Parse(postedAtLayout, m[1])
}

// ParseDetail downloads the detail page and merges its fields into the
// listing. A failed download is returned to the caller (the listing is
// dropped for this run); a single unparsable field is recorded as a mistake
// and skipped so the rest of the listing still goes out.
func (s *Site) ParseDetail(ctx context.Context, l *model.Listing) error {
	body, err := s.client.Get(ctx, l.URL)
	if err != nil {
		return fmt.Errorf("fetch detail %s: %w", l.URL, err)
	}
	return s.parseDetailPage(body, l)
}

func (s *Site) parseDetailPage(body []byte, l *model.Listing) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse detail %s: %w", l.URL, err)
	}

	sc, ok := schema.Get(l.Category)
	if !ok {
		return fmt.Errorf("no schema for category %q", l.Category)
	}

	var images []string
	doc.Find("div.announcement__images img").Each(func(_ int, img *goquery.Selection) {
		if len(images) >= maxImages {
			return
		}
		if src := img.AttrOr("src", ""); src != "" {
			images = append(images, src)
		}
	})
	if len(images) > 0 {
		l.Images = images
	}

	if loc := doc.Find("a.announcement__location").First(); loc.Length() > 0 {
		if coords, err := parseCoords(loc); err != nil {
			s.mistakes.Add("parse coordinates on %s: %v", l.URL, err)
		} else {
			l.Coords = coords
			l.Distance = haversine(schema.CityPoint(l.Locality()), *coords)
		}
	}

	if desc := strings.TrimSpace(doc.Find("div.announcement-description p").First().Text()); desc != "" {
		// Truncate by rune so a multi-byte character is never split.
		if r := []rune(desc); len(r) > maxDescription {
			desc = string(r[:maxDescription]) + "..."
		}
		l.Description = desc
	}

	doc.Find("ul.chars-column li").Each(func(_ int, li *goquery.Selection) {
		s.parseCharRow(li, sc, l)
	})
	return nil
}

// parseCharRow maps one row of the characteristics column onto a schema
// field. Rows that match no declared field are ignored.
func (s *Site) parseCharRow(li *goquery.Selection, sc schema.Category, l *model.Listing) {
	label := strings.ToLower(strings.TrimSpace(li.Find("span").First().Text()))
	if label == "" {
		return
	}

	for _, f := range sc.Fields {
		if f.Kind == schema.KindFlag || !strings.Contains(label, f.Name) {
			continue
		}

		value := strings.TrimSpace(li.Find("a").First().Text())
		if value == "" {
			value = strings.TrimSpace(li.Find("span.value-chars").First().Text())
		}
		if value == "" {
			s.mistakes.Add("empty %s value on %s", f.Name, l.URL)
			return
		}

		if f.Numeric() {
			n, err := leadingInt(value)
			if err != nil {
				s.mistakes.Add("parse %s on %s: %v", f.Name, l.URL, err)
				return
			}
			l.Attrs[f.Name] = model.NumAttr(n)
		} else {
			l.Attrs[f.Name] = model.TextAttr(value)
		}
		return
	}
}

func parseCoords(sel *goquery.Selection) (*model.Coords, error) {
	if lat := sel.AttrOr("data-default-lat", ""); lat != "" {
		lon := sel.AttrOr("data-default-lng", "")
		return coordsFromStrings(lat, lon)
	}

	m := pointRe.FindStringSubmatch(sel.AttrOr("data-coords", ""))
	if m == nil {
		return nil, errors.New("no usable coordinate attributes")
	}
	return coordsFromStrings(m[2], m[1])
}

func coordsFromStrings(lat, lon string) (*model.Coords, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("latitude %q: %w", lat, err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("longitude %q: %w", lon, err)
	}
	return &model.Coords{Lat: la, Lon: lo}, nil
}

// leadingInt parses the first whitespace-separated token as an integer,
// so "85 m²" becomes 85.
func leadingInt(value string) (int, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no numeric token in %q", value)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("numeric token in %q: %w", value, err)
	}
	return n, nil
}
