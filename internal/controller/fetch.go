package controller

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/npratt/hopctl/internal/config"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/history"
	"github.com/npratt/hopctl/internal/runner"
)

// Page is a resource fetched through the client.
type Page struct {
	RequestID  string
	URL        string
	StatusCode int // 0 when the client printed raw text
	Content    string
	Truncated  bool
	LoadedAt   time.Time
}

// fetchRun is the fetch in flight. A newer fetch replaces it.
type fetchRun struct {
	id        string
	url       string
	proc      *tracked
	body      strings.Builder
	truncated bool
	started   time.Time

	// Set for history moves; the index moves by diff on success.
	navigate bool
	diff     int
}

// clientResponse is the JSON document the client prints on success.
type clientResponse struct {
	Content    *string `json:"content"`
	StatusCode int     `json:"status code"`
}

func (c *Controller) load(resource string) (string, error) {
	if c.state != StateConnected {
		c.logger.Debug("load dropped", "resource", resource, "state", c.state)
		return "", ErrNotConnected
	}
	url, err := history.Normalize(resource)
	if err != nil {
		return "", err
	}
	if !c.history.Append(url) {
		c.logger.Debug("duplicate history entry suppressed", "url", url)
	}
	return url, c.startFetch(&fetchRun{url: url})
}

func (c *Controller) navigate(diff int) (string, error) {
	// Moves made while a history fetch is pending stack on its target.
	if c.fetch != nil && c.fetch.navigate {
		diff += c.fetch.diff
	}
	target, err := c.history.Seek(diff)
	if err != nil {
		return "", err
	}
	if c.state != StateConnected {
		return "", ErrNotConnected
	}
	return target, c.startFetch(&fetchRun{url: target, navigate: true, diff: diff})
}

func (c *Controller) startFetch(f *fetchRun) error {
	if c.fetch != nil {
		c.logger.Debug("fetch superseded", "request_id", c.fetch.id, "url", c.fetch.url)
		c.cancelFetch()
	}

	f.id = uuid.NewString()
	f.started = time.Now()
	c.page = nil
	c.loadErr = ""

	cmd := c.fetchCmd.Expand(config.CommandVars{Resource: f.url})
	t, err := c.spawn(roleFetch, f.id, runner.Spec{Name: cmd.Name, Args: cmd.Args, Dir: c.cfg.WorkDir, Env: c.cfg.Env})
	if err != nil {
		c.loadFailed(f, err.Error())
		return err
	}
	f.proc = t
	c.fetch = f

	c.logger.Info("loading", "url", f.url, "request_id", f.id)
	c.emit(&events.LoadStartEvent{
		BaseEvent: events.NewEvent(events.EventLoadStart, events.SourceClient),
		RequestID: f.id,
		URL:       f.url,
	})
	return nil
}

func (c *Controller) onFetchEvent(t *tracked, ev runner.Event) {
	f := c.fetch
	if f == nil || f.proc != t {
		return
	}

	switch ev.Kind {
	case runner.EventStdout:
		f.append(ev.Line, c.cfg.Client.MaxResponseBytes)
	case runner.EventStderr:
		c.kill(t)
		c.loadFailed(f, ev.Line)
	case runner.EventFailed:
		c.kill(t)
		c.loadFailed(f, ev.Err.Error())
	case runner.EventExited:
		if ev.Code != 0 {
			c.loadFailed(f, fmt.Sprintf("client exited with code %d", ev.Code))
			return
		}
		c.loadDone(f)
	}
}

// append adds one output line to the body, keeping it within limit bytes.
func (f *fetchRun) append(line string, limit int) {
	if f.body.Len() > 0 {
		line = "\n" + line
	}
	room := limit - f.body.Len()
	if len(line) > room {
		f.truncated = true
		if room <= 0 {
			return
		}
		line = strings.ToValidUTF8(line[:room], "")
	}
	f.body.WriteString(line)
}

func (c *Controller) loadDone(f *fetchRun) {
	c.fetch = nil
	content, code := parseResponse(f.body.String())
	c.page = &Page{
		RequestID:  f.id,
		URL:        f.url,
		StatusCode: code,
		Content:    content,
		Truncated:  f.truncated,
		LoadedAt:   c.now(),
	}
	if f.navigate {
		if err := c.history.Commit(f.diff); err != nil {
			c.logger.Warn("history move rejected", "diff", f.diff, "error", err)
		}
	}

	elapsed := time.Since(f.started)
	c.logger.Info("loaded", "url", f.url, "request_id", f.id, "bytes", len(content), "duration", elapsed)
	c.emit(&events.LoadDoneEvent{
		BaseEvent:  events.NewEvent(events.EventLoadDone, events.SourceClient),
		RequestID:  f.id,
		URL:        f.url,
		StatusCode: code,
		Bytes:      len(content),
		Truncated:  f.truncated,
		DurationMs: elapsed.Milliseconds(),
	})
}

func (c *Controller) loadFailed(f *fetchRun, reason string) {
	c.fetch = nil
	c.page = nil
	c.loadErr = reason

	c.logger.Warn("load failed", "url", f.url, "request_id", f.id, "reason", reason)
	c.emit(&events.LoadFailedEvent{
		BaseEvent: events.NewEvent(events.EventLoadFailed, events.SourceClient),
		RequestID: f.id,
		URL:       f.url,
		Error:     reason,
	})
}

// cancelFetch kills the fetch in flight without reporting it.
func (c *Controller) cancelFetch() {
	if c.fetch == nil {
		return
	}
	c.kill(c.fetch.proc)
	c.fetch = nil
}

// parseResponse extracts the page from the client's output. Output that
// is not a client JSON document is shown as-is.
func parseResponse(body string) (string, int) {
	var resp clientResponse
	if err := json.Unmarshal([]byte(body), &resp); err == nil && resp.Content != nil {
		return *resp.Content, resp.StatusCode
	}
	return body, 0
}
