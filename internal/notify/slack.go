package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/vulnverified/surface/internal/lifecycle"
)

const slackTimeout = 10 * time.Second

// SlackSink posts a digest of the lifecycle diff to an incoming webhook.
type SlackSink struct {
	Webhook string
	Client  *http.Client
}

func (s *SlackSink) Name() string { return "slack" }

// Send posts the digest of ev. An empty diff sends nothing.
func (s *SlackSink) Send(ctx context.Context, ev Event) error {
	text := Digest(ev.Report.ScanID, ev.Report.Transitions)
	if text == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, slackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack digest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Digest renders the transitions of a scan as a chat message, or "" when
// nothing changed.
func Digest(scanID uint, t lifecycle.Transitions) string {
	var parts []string
	for _, sec := range []struct {
		label string
		keys  []string
	}{
		{"New", t.New},
		{"Resolved", t.Resolved},
		{"Regressed", t.Regressed},
	} {
		if len(sec.keys) == 0 {
			continue
		}
		keys := append([]string(nil), sec.keys...)
		sort.Strings(keys)
		parts = append(parts, fmt.Sprintf("*%s findings:*\n%s", sec.label, strings.Join(keys, "\n")))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("Scan %d findings summary:\n", scanID) + strings.Join(parts, "\n\n")
}
