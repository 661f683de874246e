package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/formloop/genwatch/pkg/log"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// SSEClient consumes the backend's server-sent event stream and fans
// deliveries out through an embedded Dispatcher. Connection loss is
// recovered by reconnecting with backoff; subscribers only ever see a
// resumed stream of events, never a transport error.
type SSEClient struct {
	*Dispatcher

	streamURL string
	http      *resty.Client
}

func NewSSEClient(streamURL, token string) *SSEClient {
	client := resty.New().
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream")
	if token != "" {
		client.SetAuthToken(token)
	}

	return &SSEClient{
		Dispatcher: NewDispatcher(),
		streamURL:  streamURL,
		http:       client,
	}
}

// Run blocks consuming the stream until ctx is cancelled.
func (c *SSEClient) Run(ctx context.Context) error {
	delay := reconnectMinDelay
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warn("Event stream disconnected: %v, reconnecting in %s", err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *SSEClient) consume(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.streamURL)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	if body == nil {
		return fmt.Errorf("event stream: empty response body")
	}
	defer body.Close()
	if resp.StatusCode() != 200 {
		return fmt.Errorf("event stream: unexpected status %d", resp.StatusCode())
	}

	var eventType string
	var data strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				c.Publish(Event{
					Type:    eventType,
					Payload: json.RawMessage(data.String()),
				})
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment line, used by the backend as keep-alive
		}
	}
	return scanner.Err()
}
