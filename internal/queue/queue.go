// Package queue is the task-broker collaborator, backed by SQS. It provides
// named durable queues with at-least-once delivery and delayed redelivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// maxDelay is the SQS DelaySeconds ceiling.
const maxDelay = 900 * time.Second

// Config holds broker configuration.
type Config struct {
	Region string
	// QueueURLs maps logical queue names to SQS queue URLs.
	QueueURLs map[string]string
}

// Producer submits tasks to their routed queue.
type Producer struct {
	client    *sqs.Client
	queueURLs map[string]string
	logger    *zap.Logger
}

// NewProducer creates a new task producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("task producer initialized",
		zap.Int("queues", len(cfg.QueueURLs)),
	)

	return &Producer{
		client:    sqs.NewFromConfig(awsCfg),
		queueURLs: cfg.QueueURLs,
		logger:    logger,
	}, nil
}

// Enqueue routes the task to its queue, optionally delaying visibility.
// A delay beyond the broker ceiling is clamped.
func (p *Producer) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	queueName, err := QueueForTask(task.Type)
	if err != nil {
		return err
	}

	url, ok := p.queueURLs[queueName]
	if !ok {
		return fmt.Errorf("queue %q not configured", queueName)
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	}
	if delay > 0 {
		input.DelaySeconds = int32(delay / time.Second)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.logger.Error("failed to enqueue task",
			zap.Error(err),
			zap.String("task_type", task.Type),
			zap.String("queue", queueName),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	return nil
}

// Consumer reads tasks from one logical queue.
type Consumer struct {
	client    *sqs.Client
	queueName string
	queueURL  string
	logger    *zap.Logger
}

// NewConsumer creates a consumer bound to one logical queue.
func NewConsumer(ctx context.Context, cfg Config, queueName string, logger *zap.Logger) (*Consumer, error) {
	url, ok := cfg.QueueURLs[queueName]
	if !ok {
		return nil, fmt.Errorf("queue %q not configured", queueName)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("task consumer initialized",
		zap.String("queue", queueName),
	)

	return &Consumer{
		client:    sqs.NewFromConfig(awsCfg),
		queueName: queueName,
		queueURL:  url,
		logger:    logger,
	}, nil
}

// Receive retrieves one task with long polling. Returns (nil, "", nil) when
// the queue is empty.
func (c *Consumer) Receive(ctx context.Context) (*Task, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		// Longer than the hard task limit so an in-flight task is not
		// redelivered while still running.
		VisibilityTimeout: 330,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	msg := result.Messages[0]

	var task Task
	if err := json.Unmarshal([]byte(*msg.Body), &task); err != nil {
		c.logger.Error("failed to unmarshal task", zap.Error(err))
		return nil, "", fmt.Errorf("invalid task format: %w", err)
	}

	return &task, *msg.ReceiptHandle, nil
}

// Delete removes a task after it has been handled (or dropped).
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}
