package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/queue"
)

// sentTimestampAttribute is the SQS system attribute holding the send time in epoch milliseconds
const sentTimestampAttribute = string(types.MessageSystemAttributeNameSentTimestamp)

// ParserStage handles parsing SQS messages into domain envelopes
type ParserStage struct {
	consumer queue.QueueConsumer
	parser   MessageParser
	// nackVisibility is the visibility timeout set on redelivery, in seconds
	nackVisibility int32
	now            func() time.Time
	log            *zap.Logger
}

// NewParserStage creates a new parser stage
func NewParserStage(consumer queue.QueueConsumer, parser MessageParser, nackVisibility int32, log *zap.Logger) *ParserStage {
	return &ParserStage{
		consumer:       consumer,
		parser:         parser,
		nackVisibility: nackVisibility,
		now:            time.Now,
		log:            log,
	}
}

// Start begins parsing messages and outputs envelopes
func (p *ParserStage) Start(ctx context.Context, in <-chan types.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Parser stage shutting down")
			return
		case msg, ok := <-in:
			if !ok {
				p.log.Info("Parser stage input channel closed")
				return
			}

			envelope := p.parseMessage(ctx, msg)
			if envelope == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
				// Envelope sent to next stage
			}
		}
	}
}

// parseMessage parses a single SQS message into an envelope
func (p *ParserStage) parseMessage(ctx context.Context, msg types.Message) *Envelope {
	body := aws.ToString(msg.Body)
	event, err := p.parser.Parse([]byte(body))

	if err != nil {
		p.log.Warn("Failed to parse message",
			zap.String("sqs_message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		if err := p.deleteMessage(ctx, msg); err != nil {
			p.log.Error("Failed to delete malformed message",
				zap.String("sqs_message_id", aws.ToString(msg.MessageId)),
				zap.Error(err))
		}
		return nil
	}

	if event.ArrivedAt.IsZero() {
		event.ArrivedAt = p.sentAt(msg)
	}

	ack := func(ctx context.Context) error {
		return p.deleteMessage(ctx, msg)
	}

	nack := func(ctx context.Context) error {
		return p.releaseMessage(ctx, msg)
	}

	return NewEnvelope(event, ack, nack)
}

// sentAt returns the SQS send time of msg, or the current time when absent
func (p *ParserStage) sentAt(msg types.Message) time.Time {
	if raw, ok := msg.Attributes[sentTimestampAttribute]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return p.now()
}

// deleteMessage deletes a message from SQS
func (p *ParserStage) deleteMessage(ctx context.Context, msg types.Message) error {
	_, err := p.consumer.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.consumer.QueueURL()),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		p.log.Error("Failed to delete message",
			zap.String("sqs_message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		return err
	}
	p.log.Debug("Deleted message from SQS",
		zap.String("sqs_message_id", aws.ToString(msg.MessageId)))
	return nil
}

// releaseMessage makes a message visible again for redelivery
func (p *ParserStage) releaseMessage(ctx context.Context, msg types.Message) error {
	_, err := p.consumer.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(p.consumer.QueueURL()),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: p.nackVisibility,
	})
	if err != nil {
		p.log.Error("Failed to release message",
			zap.String("sqs_message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		return err
	}
	return nil
}
