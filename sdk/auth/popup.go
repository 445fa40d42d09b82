package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/typedown-app/typedown/internal/browser"
	"github.com/typedown-app/typedown/internal/wsrelay"
)

// PopupController drives one interactive consent round: it opens the
// authorization URL for the user and returns once the flow identified by
// flowID has completed (or the wait gave up).
type PopupController interface {
	Complete(ctx context.Context, flowID, startURL string) error
}

// BrowserPopup opens the system browser and waits on the relay's
// completion-signal websocket. When the websocket cannot be established it
// falls back to polling the probe, which keeps the wait bounded either way.
type BrowserPopup struct {
	// BaseURL is the relay origin, e.g. "https://typedown.example".
	BaseURL string

	// Timeout bounds the whole wait. Zero means 5 minutes.
	Timeout time.Duration

	// PollInterval paces the fallback probe. Zero means 2 seconds.
	PollInterval time.Duration

	// Probe reports whether the flow has completed, for the polling
	// fallback. The orchestrator wires this to a silent mint attempt.
	Probe func(ctx context.Context) bool

	// OpenURL overrides the browser launcher, mainly for tests.
	OpenURL func(url string) error
}

const (
	defaultPopupTimeout = 5 * time.Minute
	defaultPollInterval = 2 * time.Second
)

// Complete opens startURL and blocks until the completion signal for flowID
// arrives, the probe succeeds, or the wait times out.
func (p *BrowserPopup) Complete(ctx context.Context, flowID, startURL string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPopupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before opening the browser so a fast flow cannot complete
	// in the gap.
	conn, err := p.dialWatch(ctx, flowID)
	if err != nil {
		log.Debugf("completion websocket unavailable, will poll: %v", err)
	}

	opener := p.OpenURL
	if opener == nil {
		opener = browser.OpenURL
	}
	if err := opener(startURL); err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return err
	}

	if conn != nil {
		defer func() { _ = conn.Close() }()
		if err := waitForCompleteMessage(ctx, conn); err == nil {
			return nil
		} else if errors.Is(err, context.DeadlineExceeded) {
			return ErrPopupTimeout
		}
		// Socket dropped mid-flow; fall through to polling.
		log.Debug("completion websocket dropped, falling back to polling")
	}

	return p.poll(ctx)
}

func (p *BrowserPopup) dialWatch(ctx context.Context, flowID string) (*websocket.Conn, error) {
	watchURL, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, err
	}
	switch watchURL.Scheme {
	case "https":
		watchURL.Scheme = "wss"
	default:
		watchURL.Scheme = "ws"
	}
	watchURL.Path = "/auth/watch"
	watchURL.RawQuery = url.Values{"td_flow": {flowID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, watchURL.String(), nil)
	return conn, err
}

func waitForCompleteMessage(ctx context.Context, conn *websocket.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			var msg wsrelay.CompleteMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == wsrelay.CompleteMessageType {
				done <- nil
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil && isTimeout(err) {
			return context.DeadlineExceeded
		}
		return err
	}
}

func (p *BrowserPopup) poll(ctx context.Context) error {
	if p.Probe == nil {
		return ErrPopupTimeout
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrPopupTimeout
		case <-ticker.C:
			if p.Probe(ctx) {
				return nil
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}
