package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/officefloor/officefloor/internal/events"
)

// ReadStream parses a server sent event stream, calling fn for every
// complete event. Comment lines are skipped. Events carry the time they were
// received since the stream does not include one.
func ReadStream(r io.Reader, fn func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		ev   events.Event
		data []string
	)
	dispatch := func() {
		if len(data) == 0 {
			ev = events.Event{}
			return
		}
		ev.Data = []byte(strings.Join(data, "\n"))
		ev.At = time.Now()
		fn(ev)
		ev = events.Event{}
		data = data[:0]
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				ev.ID = n
			}
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}

// eventsURL is the /events endpoint narrowed by f.
func eventsURL(apiURL string, f events.Filter) string {
	u := strings.TrimRight(apiURL, "/") + "/events"
	q := url.Values{}
	if len(f.Offices) > 0 {
		q.Set("office", strings.Join(f.Offices, ","))
	}
	if len(f.Types) > 0 {
		q.Set("type", strings.Join(f.Types, ","))
	}
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}

// Stream connects to the /events endpoint of an office floor API and feeds
// events matching f into ch until the connection drops or ctx ends. lastID
// resumes the stream after a reconnect.
func Stream(ctx context.Context, client *http.Client, apiURL, token string, f events.Filter, lastID int64, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eventsURL(apiURL, f), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: unexpected status %s", resp.Status)
	}

	return ReadStream(resp.Body, func(ev events.Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	})
}
