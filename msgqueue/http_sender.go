// File: msgqueue/http_sender.go
// Author: momentics <momentics@gmail.com>
//
// Relay sender posting payloads to an HTTP endpoint.

package msgqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/pcxd/api"
)

// HTTPSender POSTs each payload to BaseURL/<dest>. Requests run on their
// own goroutine so the loop never blocks on the network.
type HTTPSender struct {
	Client      *http.Client
	BaseURL     string
	ContentType string
	Timeout     time.Duration
}

// NewHTTPSender returns a sender with sane defaults.
func NewHTTPSender(baseURL string) *HTTPSender {
	return &HTTPSender{
		Client:      http.DefaultClient,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ContentType: "application/octet-stream",
		Timeout:     30 * time.Second,
	}
}

// Send implements Sender.
func (s *HTTPSender) Send(dest int64, payload []byte, done func(error)) {
	go func() { done(s.post(dest, payload)) }()
}

func (s *HTTPSender) post(dest int64, payload []byte) error {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	url := s.BaseURL + "/" + strconv.FormatInt(dest, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", s.ContentType)

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return api.NewError(api.ErrCodeInternal, fmt.Sprintf("relay returned %s", resp.Status)).
			WithContext("dest", dest)
	}
	return nil
}
