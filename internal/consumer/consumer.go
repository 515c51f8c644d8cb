package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/admission"
	"github.com/mackka2k/tg-news-listener/internal/config"
	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/queue"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// Consumer orchestrates a pipeline of stages to admit SQS messages
type Consumer struct {
	receiver       *Receiver
	parser         *ParserStage
	processor      Processor
	admitterConfig AdmitterConfig
	outcomeWriter  *OutcomeWriter
	bufferSize     int
	grace          time.Duration
	log            *zap.Logger
}

// NewConsumer creates a new consumer with a pipeline architecture. outcomes may be nil.
func NewConsumer(cfg *config.Config, queueConsumer queue.QueueConsumer, processor Processor, outcomes repository.OutcomeRepository, log *zap.Logger) *Consumer {
	bufferSize := cfg.Pipeline.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	receiver := NewReceiver(queueConsumer, ReceiverConfig{
		MaxMessages:     cfg.SQS.MaxMessages,
		WaitTimeSeconds: cfg.SQS.WaitTimeSeconds,
		BufferSize:      bufferSize,
	}, log)

	parser := NewParserStage(queueConsumer, NewJSONMessageParser(), cfg.SQS.NackVisibilitySec, log)

	outcomeWriter := NewOutcomeWriter(outcomes, OutcomeWriterConfig{
		MaxBatchSize: cfg.Pipeline.OutcomeBatchSize,
		FlushTimeout: cfg.Pipeline.OutcomeFlushInterval,
	}, log)

	return &Consumer{
		receiver:       receiver,
		parser:         parser,
		processor:      processor,
		admitterConfig: AdmitterConfig{Workers: cfg.Pipeline.Workers},
		outcomeWriter:  outcomeWriter,
		bufferSize:     bufferSize,
		grace:          cfg.Service.ShutdownGrace,
		log:            log,
	}
}

// Start runs the pipeline until ctx is done and every stage has drained.
// Messages already received keep processing on a detached context for up to
// the shutdown grace period. It returns admission.ErrHalted when the
// processor stopped admitting.
func (c *Consumer) Start(ctx context.Context) error {
	receiveCtx, stopReceiving := context.WithCancel(ctx)
	defer stopReceiving()

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	messageChan := make(chan types.Message, c.bufferSize)
	envelopeChan := make(chan *Envelope, c.bufferSize)
	outcomeChan := make(chan *domain.Outcome, c.bufferSize)

	admitter := NewAdmitter(c.processor, c.admitterConfig, func() {
		c.log.Error("Processor halted, stopping intake")
		stopReceiving()
	}, c.log)

	drained := make(chan struct{})
	go c.enforceGrace(ctx, drained, cancelWork)

	var wg sync.WaitGroup

	// Start all pipeline stages
	wg.Add(4)

	// Stage 1: Receive messages from SQS
	go func() {
		defer wg.Done()
		c.receiver.Start(receiveCtx, messageChan)
	}()

	// Stage 2: Parse messages into envelopes
	go func() {
		defer wg.Done()
		c.parser.Start(workCtx, messageChan, envelopeChan)
	}()

	// Stage 3: Admit envelopes on the worker pool
	go func() {
		defer wg.Done()
		admitter.Start(workCtx, envelopeChan, outcomeChan)
	}()

	// Stage 4: Batch outcomes into the audit log
	go func() {
		defer wg.Done()
		c.outcomeWriter.Start(workCtx, outcomeChan)
	}()

	wg.Wait()
	close(drained)

	if c.processor.Halted() {
		return admission.ErrHalted
	}
	return nil
}

// enforceGrace cancels in-flight work when draining outlasts the grace period
func (c *Consumer) enforceGrace(ctx context.Context, drained <-chan struct{}, cancelWork context.CancelFunc) {
	select {
	case <-drained:
		return
	case <-ctx.Done():
	}

	c.log.Info("Shutdown requested, draining in-flight messages", zap.Duration("grace", c.grace))

	timer := time.NewTimer(c.grace)
	defer timer.Stop()

	select {
	case <-drained:
	case <-timer.C:
		c.log.Warn("Shutdown grace period elapsed, cancelling in-flight messages")
		cancelWork()
	}
}
