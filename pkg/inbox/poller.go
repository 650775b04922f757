package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/model"
)

// Lister queries the open offers of the caller.
type Lister interface {
	ListOpen(ctx context.Context) (offers []model.Offer, serverTime time.Time, err error)
}

// Poller is the reconciliation producer: it asks the server for open
// offers on a fixed interval and feeds the Inbox.
type Poller struct {
	lister   Lister
	inbox    *Inbox
	interval time.Duration
	log      logger.Logger
	onChange func()
}

// NewPoller returns a Poller. onChange, when set, runs after a poll that
// surfaced at least one offer.
func NewPoller(l Lister, in *Inbox, interval time.Duration, log logger.Logger, onChange func()) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &Poller{lister: l, inbox: in, interval: interval, log: log, onChange: onChange}
}

// PollOnce runs one reconciliation and returns the number of new offers.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	offers, at, err := p.lister.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	n := p.inbox.Reconcile(offers, at)
	if n > 0 {
		p.onChange()
	}
	return n, nil
}

// Run polls until ctx is cancelled. Failures are logged and the next tick
// tries again.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if n, err := p.PollOnce(ctx); err != nil {
			p.log.Warnf("poll open offers: %v", err)
		} else if n > 0 {
			p.log.Debugf("poll surfaced %d offers", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HTTPLister calls GET /api/v1/offers/open.
type HTTPLister struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type openOffersResponse struct {
	Offers     []model.Offer `json:"offers"`
	ServerTime time.Time     `json:"server_time"`
}

// ListOpen implements Lister.
func (l *HTTPLister) ListOpen(ctx context.Context) ([]model.Offer, time.Time, error) {
	cli := l.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(l.BaseURL, "/")+"/api/v1/offers/open", nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+l.Token)
	resp, err := cli.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("list open offers: status %d", resp.StatusCode)
	}
	var body openOffersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode open offers: %w", err)
	}
	return body.Offers, body.ServerTime, nil
}
