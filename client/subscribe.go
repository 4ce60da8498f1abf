package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/GoCodeAlone/tally/backend"
	"github.com/GoCodeAlone/tally/server/stream"
	"github.com/GoCodeAlone/tally/task"
)

// Subscribe opens the server's live task stream for ownerID. Connection and
// authorization failures arrive as a terminal push.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (backend.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	feed := backend.NewFeed(cancel)

	q := url.Values{"owner": {ownerID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tasks/stream?"+q.Encode(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	go c.readStream(ctx, req, ownerID, feed)
	return feed, nil
}

func (c *Client) readStream(ctx context.Context, req *http.Request, ownerID string, feed *backend.Feed) {
	log := c.logger.With(slog.String("owner", ownerID))
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			feed.Send(backend.Push{Err: fmt.Errorf("open stream: %w", err)})
		}
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		feed.Send(backend.Push{Err: decodeError(resp)})
		return
	}

	r := stream.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			log.Debug("stream read failed", slog.Any("err", err))
			feed.Send(backend.Push{Err: fmt.Errorf("stream closed: %w", err)})
			return
		}

		switch ev.Name {
		case stream.EventSnapshot:
			var snap struct {
				Tasks []task.Task `json:"tasks"`
			}
			if err := json.Unmarshal(ev.Data, &snap); err != nil {
				feed.Send(backend.Push{Err: fmt.Errorf("decode snapshot: %w", err)})
				return
			}
			if !feed.Send(backend.Push{Tasks: snap.Tasks}) {
				return
			}
		case stream.EventError:
			var body struct {
				Error string       `json:"error"`
				Code  backend.Code `json:"code"`
			}
			if err := json.Unmarshal(ev.Data, &body); err != nil {
				body.Error, body.Code = string(ev.Data), backend.CodeInternal
			}
			feed.Send(backend.Push{Err: &APIError{Status: http.StatusOK, Code: body.Code, Message: body.Error}})
			return
		default:
			log.Debug("ignoring stream event", slog.String("event", ev.Name))
		}
	}
}
