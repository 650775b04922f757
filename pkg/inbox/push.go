package inbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// Listen connects to the push endpoint and passes every decoded frame to
// handle until ctx is cancelled or the connection drops. Malformed frames
// are skipped. Missed frames are the poll path's concern.
func Listen(ctx context.Context, wsURL, token string, handle func(Envelope)) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", u.Host, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			continue
		}
		handle(env)
	}
}
