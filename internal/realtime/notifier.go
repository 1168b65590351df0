package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ToastSink interface {
	Toast(ctx context.Context, n Notice) error
}

type CuePlayer interface {
	Play(ctx context.Context, cue Cue) error
}

// PushSink forwards notices out of band (ops chat, webhooks).
type PushSink interface {
	Push(ctx context.Context, n Notice) error
}

// Recorder receives counters for the metrics endpoint.
type Recorder interface {
	ChangeApplied(table, kind string)
	NoticeEmitted(table string)
	SideEffectFailed(effect string)
}

type nopRecorder struct{}

func (nopRecorder) ChangeApplied(string, string) {}
func (nopRecorder) NoticeEmitted(string)         {}
func (nopRecorder) SideEffectFailed(string)      {}

const pushTimeout = 10 * time.Second

// Notifier turns a notice into exactly one toast and one cue attempt.
// Failures are logged and dropped.
type Notifier struct {
	toasts ToastSink
	cues   CuePlayer
	push   PushSink
	rec    Recorder

	wg sync.WaitGroup
}

func NewNotifier(toasts ToastSink, cues CuePlayer, push PushSink, rec Recorder) *Notifier {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Notifier{toasts: toasts, cues: cues, push: push, rec: rec}
}

func (n *Notifier) Notify(ctx context.Context, notice *Notice) {
	if n == nil || notice == nil {
		return
	}
	n.rec.NoticeEmitted(string(notice.Table))

	if n.toasts != nil {
		if err := n.toasts.Toast(ctx, *notice); err != nil {
			n.rec.SideEffectFailed("toast")
			slog.Warn("notify: toast failed", "title", notice.Title, "err", err)
		}
	}
	if n.cues != nil {
		if err := n.cues.Play(ctx, notice.Cue); err != nil {
			n.rec.SideEffectFailed("cue")
			slog.Warn("notify: sound play blocked", "cue", notice.Cue, "err", err)
		}
	}
	if n.push != nil {
		cp := *notice
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
			defer cancel()
			if err := n.push.Push(pctx, cp); err != nil {
				n.rec.SideEffectFailed("push")
				slog.Warn("notify: push failed", "title", cp.Title, "err", err)
			}
		}()
	}
}

// Wait blocks until in-flight pushes finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
