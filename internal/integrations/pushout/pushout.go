package pushout

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/realtime"
	"github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/pkg/errors"
)

type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Pusher forwards console notices to shoutrrr URLs (Slack, Telegram, webhooks).
type Pusher struct {
	s sender
}

// New builds a pusher for urls. With no urls it returns nil, which is a valid no-op sink.
func New(urls []string, timeout time.Duration) (*Pusher, error) {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}

	router, err := shoutrrr.CreateSender(clean...)
	if err != nil {
		return nil, errors.Wrap(err, "create push sender")
	}
	if timeout > 0 {
		router.Timeout = timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return &Pusher{s: router}, nil
}

func newWithSender(s sender) *Pusher {
	return &Pusher{s: s}
}

func (p *Pusher) Push(ctx context.Context, n realtime.Notice) error {
	if p == nil || p.s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, err := range p.s.Send(n.Message, &params) {
		if err != nil {
			return errors.Wrap(err, "push notice")
		}
	}
	return nil
}
