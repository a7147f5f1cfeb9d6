package indexengine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rdxlab/tgdb/internal/msgtypes"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// BatchSize bounds how many missing message ids are collected and
// fetched per round (§4.E, E2); the number of ids probed is not bounded.
const BatchSize = 100

// parallelWindow bounds how many IndexMessage calls run concurrently
// within a batch.
const parallelWindow = 10

const interBatchSleep = 10 * time.Second

var retryAfterPattern = regexp.MustCompile(`retry after (\d+)`)

// IndexMessagesInChat fills every hole in [1, untilID] for chatID. It
// scans sequence numbers probing the Record Store, accumulating up to
// BatchSize missing external ids per round regardless of how many
// sequence numbers that scan spans, then fetches and indexes that round
// with parallelWindow concurrent workers (§4.E, E2). progress is called
// with the highest sequence number scanned so far after each round.
func (e *Engine) IndexMessagesInChat(ctx context.Context, chatID, untilID int64, progress func(chatID, current int64)) error {
	current := int64(1)
	var missing []int64

	flush := func() error {
		if len(missing) == 0 {
			return nil
		}
		messages, err := e.fetchMessagesWithRetry(ctx, chatID, missing[0], missing[len(missing)-1])
		if err != nil {
			return fmt.Errorf("indexengine: fetch messages [%d,%d] in chat %d: %w", missing[0], missing[len(missing)-1], chatID, err)
		}

		byID := make(map[int64]*msgtypes.InboundMessage, len(messages))
		for _, m := range messages {
			byID[m.ID] = m
		}

		if err := e.indexBatch(ctx, chatID, missing, byID); err != nil {
			return fmt.Errorf("indexengine: index batch in chat %d: %w", chatID, err)
		}
		missing = missing[:0]
		return nil
	}

	for current <= untilID {
		extID := msgtypes.ExternalID(current)
		if !e.Store.Has(extID) {
			missing = append(missing, extID)
		}
		current++

		if len(missing) >= BatchSize || current > untilID {
			if err := flush(); err != nil {
				return err
			}
			if progress != nil {
				progress(chatID, current-1)
			}
			if current <= untilID {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interBatchSleep):
				}
			}
		}
	}
	return nil
}

// indexBatch runs IndexMessage for every id in missing, parallelWindow at
// a time. A missing id absent from byID is indexed as an empty
// placeholder (the message no longer exists on the platform).
func (e *Engine) indexBatch(ctx context.Context, chatID int64, missing []int64, byID map[int64]*msgtypes.InboundMessage) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelWindow)

	for _, id := range missing {
		id := id
		g.Go(func() error {
			msg := byID[id]
			return e.IndexMessage(ctx, msg, id, chatID)
		})
	}

	return g.Wait()
}

// fetchMessagesWithRetry calls GetMessages, retrying the same range after
// sleeping (N+5) seconds whenever the error matches the platform's
// "retry after N" rate-limit response (§4.E, E2).
func (e *Engine) fetchMessagesWithRetry(ctx context.Context, chatID, fromID, toID int64) ([]*msgtypes.InboundMessage, error) {
	for {
		messages, err := e.Messaging.GetMessages(ctx, chatID, fromID, toID)
		if err == nil {
			return messages, nil
		}

		match := retryAfterPattern.FindStringSubmatch(err.Error())
		if match == nil {
			return nil, err
		}

		seconds, parseErr := strconv.Atoi(match[1])
		if parseErr != nil {
			return nil, err
		}

		wait := time.Duration(seconds+5) * time.Second
		L_warn("indexengine: rate limited, retrying batch", "chatID", chatID, "from", fromID, "to", toID, "wait", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
