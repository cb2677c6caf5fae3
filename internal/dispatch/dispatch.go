// Package dispatch delivers matched listings to Telegram users.
//
// Delivery degrades instead of failing: a rate-limited send is repeated
// unchanged after the interval the server asks for, any other failure retries
// with one trailing photo fewer until the message is text-only. Only a failed
// text-only send gives up on the recipient.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/report"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Dispatcher fans matched listings out to users. Deliveries to distinct
// users run concurrently; messages to the same user are strictly ordered.
type Dispatcher struct {
	api          telegramAPI
	operatorChat int64
	mistakes     *report.Collector
	log          *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher. Batch failures collected in mistakes are
// reported to operatorChat by Flush.
func New(api telegramAPI, operatorChat int64, mistakes *report.Collector, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		api:          api,
		operatorChat: operatorChat,
		mistakes:     mistakes,
		log:          log,
		sleep:        sleepCtx,
	}
}

// Dispatch sends every matched listing to its users. matches maps category ->
// listing id -> user ids, listings carries the full records of the batch.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	matches map[model.Category]map[string][]int64,
	listings map[model.Category][]model.Listing,
	prefs map[int64]model.Preferences,
) {
	perUser := groupByUser(matches, listings)

	var wg sync.WaitGroup
	for userID, queue := range perUser {
		wg.Add(1)
		go func(userID int64, queue []*model.Listing) {
			defer wg.Done()
			for _, l := range queue {
				if ctx.Err() != nil {
					return
				}
				d.deliver(ctx, userID, l, prefs[userID])
			}
		}(userID, queue)
	}
	wg.Wait()
}

// groupByUser inverts the match result into stable per-user queues.
func groupByUser(
	matches map[model.Category]map[string][]int64,
	listings map[model.Category][]model.Listing,
) map[int64][]*model.Listing {
	perUser := make(map[int64][]*model.Listing)
	for _, cat := range model.Categories() {
		byID := make(map[string]*model.Listing)
		catListings := listings[cat]
		for i := range catListings {
			byID[catListings[i].ID] = &catListings[i]
		}

		ids := make([]string, 0, len(matches[cat]))
		for id := range matches[cat] {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			l, ok := byID[id]
			if !ok {
				continue
			}
			for _, userID := range matches[cat][id] {
				perUser[userID] = append(perUser[userID], l)
			}
		}
	}
	return perUser
}

// deliver sends one listing to one user, degrading the payload on failure.
func (d *Dispatcher) deliver(ctx context.Context, userID int64, l *model.Listing, p model.Preferences) {
	caption, entities := Render(l)

	images := l.Images
	if p.NoPhotos {
		images = nil
	}

	for {
		err := d.send(userID, caption, entities, images, p.Silent)
		if err == nil {
			break
		}

		if after, ok := retryAfter(err); ok {
			d.log.Debug("rate limited", "user", userID, "retry_after", after)
			if serr := d.sleep(ctx, after); serr != nil {
				d.mistakes.Add("deliver ad %s to %d: %v", l.ID, userID, serr)
				return
			}
			continue
		}

		if len(images) == 0 {
			d.mistakes.Add("deliver ad %s to %d: %v", l.ID, userID, err)
			return
		}
		// The payload is the usual suspect; shed one photo and try again.
		images = images[:len(images)-1]
	}

	if p.ShowLocation && l.Coords != nil {
		loc := tgbotapi.NewLocation(userID, l.Coords.Lat, l.Coords.Lon)
		loc.DisableNotification = true
		if _, err := d.api.Send(loc); err != nil {
			d.log.Warn("send location", "user", userID, "ad", l.ID, "error", err)
		}
	}
}

func (d *Dispatcher) send(chatID int64, caption string, entities []tgbotapi.MessageEntity, images []string, silent bool) error {
	switch len(images) {
	case 0:
		msg := tgbotapi.NewMessage(chatID, caption)
		msg.Entities = entities
		msg.DisableWebPagePreview = true
		msg.DisableNotification = silent
		_, err := d.api.Send(msg)
		return err

	case 1:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(images[0]))
		photo.Caption = caption
		photo.CaptionEntities = entities
		photo.DisableNotification = silent
		_, err := d.api.Send(photo)
		return err

	default:
		media := make([]interface{}, 0, len(images))
		for i, img := range images {
			m := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(img))
			if i == 0 {
				m.Caption = caption
				m.CaptionEntities = entities
			}
			media = append(media, m)
		}
		group := tgbotapi.NewMediaGroup(chatID, media)
		group.DisableNotification = silent
		_, err := d.api.SendMediaGroup(group)
		return err
	}
}

// Flush reports the batch's collected mistakes to the operator chat and
// clears the collector. An empty collector sends nothing.
func (d *Dispatcher) Flush(ctx context.Context) {
	mistakes := d.mistakes.Drain()
	if len(mistakes) == 0 || d.operatorChat == 0 {
		return
	}

	msg := tgbotapi.NewMessage(d.operatorChat, "Mistakes:\n"+strings.Join(mistakes, "\n"))
	msg.DisableWebPagePreview = true
	if _, err := d.api.Send(msg); err != nil {
		d.log.Error("flush mistakes", "count", len(mistakes), "error", err)
	}
}

// retryAfter extracts the wait interval from a rate-limit error.
func retryAfter(err error) (time.Duration, bool) {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) || tgErr.RetryAfter <= 0 {
		return 0, false
	}
	return time.Duration(tgErr.RetryAfter) * time.Second, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
