package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

type (
	loopKey   struct{}
	originKey struct{}
)

// loopToken marks a context as executing on a loop. It is only honoured while
// the task it was issued for is running.
type loopToken struct {
	loop   *Loop
	active atomic.Bool
}

type loopTask struct {
	fn   func(context.Context)
	done chan struct{}
}

// Loop is the single execution context that owns a session's mutable state.
// Tasks run one at a time in arrival order.
type Loop struct {
	tasks   chan loopTask
	wake    chan struct{}
	stopped chan struct{}
	started atomic.Bool
	stop    sync.Once

	// overflow holds tasks queued while the queue was full by the task that
	// is running, which cannot wait for itself to drain the queue.
	mu       sync.Mutex
	overflow []loopTask
}

// NewLoop returns a loop whose queue holds depth pending tasks.
func NewLoop(depth int) *Loop {
	if depth <= 0 {
		depth = schema.DefaultLoopDepth
	}
	return &Loop{
		tasks:   make(chan loopTask, depth),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Run executes tasks until ctx is done. Queued tasks that did not run are dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("loop already running")
	}
	defer l.stop.Do(func() { close(l.stopped) })
	for {
		if ctx.Err() != nil {
			return nil
		}
		if task, ok := l.next(); ok {
			l.exec(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case task := <-l.tasks:
			l.exec(ctx, task)
		case <-l.wake:
		}
	}
}

// next returns the oldest queued task. Everything in the channel predates the
// overflow, since nothing enters the channel while the overflow is non-empty.
func (l *Loop) next() (loopTask, bool) {
	select {
	case task := <-l.tasks:
		return task, true
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.overflow) == 0 {
		return loopTask{}, false
	}
	task := l.overflow[0]
	l.overflow[0] = loopTask{}
	l.overflow = l.overflow[1:]
	return task, true
}

func (l *Loop) exec(ctx context.Context, task loopTask) {
	token := &loopToken{loop: l}
	token.active.Store(true)
	defer func() {
		token.active.Store(false)
		if task.done != nil {
			close(task.done)
		}
		if r := recover(); r != nil {
			pslog.Ctx(ctx).Error("session task panic", "panic", r)
		}
	}()
	task.fn(context.WithValue(ctx, loopKey{}, token))
}

// OnLoop reports whether ctx belongs to a task currently running on l.
func (l *Loop) OnLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	token, ok := ctx.Value(loopKey{}).(*loopToken)
	return ok && token != nil && token.loop == l && token.active.Load()
}

// Do runs fn on the loop and waits for it. When ctx already belongs to the
// loop, fn runs inline.
func (l *Loop) Do(ctx context.Context, fn func(context.Context)) error {
	if l.OnLoop(ctx) {
		fn(ctx)
		return nil
	}
	done := make(chan struct{})
	if err := l.enqueue(ctx, loopTask{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return schema.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting for it. When ctx already belongs to the loop,
// fn runs inline.
func (l *Loop) Post(ctx context.Context, fn func(context.Context)) error {
	if l.OnLoop(ctx) {
		fn(ctx)
		return nil
	}
	return l.enqueue(ctx, loopTask{fn: fn})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) enqueue(ctx context.Context, task loopTask) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-l.stopped:
		return schema.ErrSessionClosed
	default:
	}
	l.mu.Lock()
	if len(l.overflow) == 0 {
		select {
		case l.tasks <- task:
			l.mu.Unlock()
			return nil
		default:
		}
	}
	if len(l.overflow) > 0 || l.fromRunningTask(ctx) {
		l.overflow = append(l.overflow, task)
		l.mu.Unlock()
		select {
		case l.wake <- struct{}{}:
		default:
		}
		return nil
	}
	l.mu.Unlock()
	select {
	case l.tasks <- task:
		return nil
	case <-l.stopped:
		return schema.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fromRunningTask reports whether ctx was detached from the task l is running.
func (l *Loop) fromRunningTask(ctx context.Context) bool {
	token, ok := ctx.Value(originKey{}).(*loopToken)
	return ok && token != nil && token.loop == l && token.active.Load()
}

// Detach returns ctx stripped of any loop marker, for handing to goroutines
// that must go through the queue. Work queued through the result while the
// issuing task still runs never blocks on a full queue.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if token, ok := ctx.Value(loopKey{}).(*loopToken); ok && token != nil {
		ctx = context.WithValue(ctx, originKey{}, token)
	}
	return context.WithValue(ctx, loopKey{}, (*loopToken)(nil))
}
