package consumer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
)

// AdmitterConfig configures the admission worker pool
type AdmitterConfig struct {
	Workers int
	// AckTimeout bounds each ack or nack call
	AckTimeout time.Duration
}

// Admitter runs envelopes through the processor on a pool of workers. A
// worker parked on the rate limiter only holds its own message.
type Admitter struct {
	processor Processor
	config    AdmitterConfig
	onHalt    func()
	log       *zap.Logger
}

// NewAdmitter creates a new admission worker pool. onHalt is called once when
// the processor reports it has halted.
func NewAdmitter(processor Processor, config AdmitterConfig, onHalt func(), log *zap.Logger) *Admitter {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = 10 * time.Second
	}
	if onHalt == nil {
		onHalt = func() {}
	}
	return &Admitter{
		processor: processor,
		config:    config,
		onHalt:    onHalt,
		log:       log,
	}
}

// Start processes envelopes until in is closed or ctx is done, then closes out
func (a *Admitter) Start(ctx context.Context, in <-chan *Envelope, out chan<- *domain.Outcome) {
	defer close(out)

	var once sync.Once
	halt := func() { once.Do(a.onHalt) }

	var wg sync.WaitGroup
	wg.Add(a.config.Workers)
	for i := 0; i < a.config.Workers; i++ {
		go func(worker int) {
			defer wg.Done()
			a.work(ctx, worker, in, out, halt)
		}(i)
	}
	wg.Wait()

	a.log.Info("Admission workers stopped")
}

func (a *Admitter) work(ctx context.Context, worker int, in <-chan *Envelope, out chan<- *domain.Outcome, halt func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-in:
			if !ok {
				return
			}

			outcome := a.processor.Process(ctx, *envelope.Event)
			a.settle(ctx, envelope, outcome)

			if a.processor.Halted() {
				halt()
			}

			select {
			case <-ctx.Done():
				return
			case out <- &outcome:
			}
		}
	}
}

// settle acks or nacks the envelope according to the outcome
func (a *Admitter) settle(ctx context.Context, envelope *Envelope, outcome domain.Outcome) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.AckTimeout)
	defer cancel()

	if outcome.Requeue {
		if err := envelope.Nack(actx); err != nil {
			a.log.Error("Failed to nack envelope",
				zap.String("fingerprint", outcome.Fingerprint.String()),
				zap.Error(err))
		}
		return
	}

	if err := envelope.Ack(actx); err != nil {
		a.log.Error("Failed to ack envelope",
			zap.String("fingerprint", outcome.Fingerprint.String()),
			zap.Error(err))
	}
}
