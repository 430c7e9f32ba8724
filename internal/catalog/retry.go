package catalog

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

// doWithRetry issues the request produced by build, retrying transport
// errors and non-2xx statuses with jittered exponential backoff. The body
// of a successful response is returned fully read.
//
// build is called once per attempt so each request carries a fresh body.
func (c *Client) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	delay := c.backoffBase

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		body, err := c.doOnce(req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		// Full jitter: sleep a random duration up to the current backoff.
		sleep := time.Duration(rand.Int64N(int64(delay)) + 1)
		c.logger.Debug("retrying catalog call",
			"attempt", attempt, "delay", sleep, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(sleep):
			delay *= 2
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) doOnce(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
