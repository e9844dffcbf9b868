package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/metrics"
	"github.com/nao1215/bookshop/pkg/event"
)

// sendTimeout はメール1通あたりの送信タイムアウト。
const sendTimeout = 30 * time.Second

// Config はDispatcherの設定。
type Config struct {
	// Workers は送信ワーカー数。
	Workers int
	// QueueSize は送信待ちキューの長さ。
	QueueSize int
}

// Dispatcher はイベントを受け取りメールを非同期に送信する。
type Dispatcher struct {
	queue    chan *event.Event
	renderer *Renderer
	mailer   Mailer
	logger   *zap.Logger
	recorder metrics.NotifyRecorder

	// mu はclosedとキューへの送信を保護する。
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher はDispatcherを生成し、ワーカーを起動する。
func NewDispatcher(cfg Config, renderer *Renderer, mailer Mailer, logger *zap.Logger, recorder metrics.NotifyRecorder) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	d := &Dispatcher{
		queue:    make(chan *event.Event, cfg.QueueSize),
		renderer: renderer,
		mailer:   mailer,
		logger:   logger,
		recorder: recorder,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish はイベントを送信キューに積む。呼び出し元をブロックしない。
// キューが満杯、またはShutdown後の場合はイベントを破棄してfalseを返す。
func (d *Dispatcher) Publish(ev *event.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Error("通知ディスパッチャは停止済みのためイベントを破棄しました",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.EventType)),
		)
		d.recorder.RecordNotifyDropped(string(ev.EventType))
		return false
	}

	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Error("通知キューが満杯のためイベントを破棄しました",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.EventType)),
		)
		d.recorder.RecordNotifyDropped(string(ev.EventType))
		return false
	}
}

// Shutdown は新規の受付を止め、キューに残ったイベントの送信完了を待つ。
// ctxが先に終了した場合はctxのエラーを返す。
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

// deliver はイベント1件をメールとして送信する。失敗はログとメトリクスにのみ記録する。
func (d *Dispatcher) deliver(ev *event.Event) {
	eventType := string(ev.EventType)
	logger := d.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", eventType),
	)

	msg, err := d.renderer.Render(ev)
	if err != nil {
		logger.Error("メール本文の生成に失敗しました", zap.Error(err))
		d.recorder.RecordNotifyFailed(eventType)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.mailer.Send(ctx, msg); err != nil {
		logger.Error("メール送信に失敗しました", zap.String("to", msg.To), zap.Error(err))
		d.recorder.RecordNotifyFailed(eventType)
		return
	}
	logger.Info("メールを送信しました", zap.String("to", msg.To))
	d.recorder.RecordNotifySent(eventType)
}
