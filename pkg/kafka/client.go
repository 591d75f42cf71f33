// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"study-gateway/internal/config"
	"study-gateway/pkg/log"
	"study-gateway/pkg/poll"
	"study-gateway/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单条用量事件的最大处理次数，全部失败后提交 offset 放弃。
const maxAttempts = 3

// TaskProcessor 处理一条用量事件，通常是写入用量账本。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.UsageTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.UsageTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 刷新并关闭生产者。
func CloseProducer() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
}

// ProduceUsageTask 发送一条用量事件到 Kafka，以 exchange_id 作为消息 key。
func ProduceUsageTask(ctx context.Context, task tasks.UsageTask) error {
	if producer == nil {
		return errors.New("kafka producer not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ExchangeID),
		Value: taskBytes,
	})
}

// Publisher 把用量事件写入 Kafka，供用量核算方使用。
type Publisher struct{}

func (Publisher) Record(ctx context.Context, task tasks.UsageTask) error {
	return ProduceUsageTask(ctx, task)
}

// StartConsumer 启动一个 Kafka 消费者来处理用量事件，ctx 取消时退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.UsageTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.UsageTopic)
	retry := poll.Policy{Interval: cfg.RetryInterval, MaxAttempts: maxAttempts}

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		var task tasks.UsageTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if err := processWithRetry(ctx, poll.RealClock{}, retry, processor, task); err != nil {
			if ctx.Err() != nil {
				// 关闭中：不提交，重启后由消费组重新投递
				break
			}
			log.Errorf("用量事件多次失败(>=%d)，提交 offset 放弃: exchange=%s, Error: %v", maxAttempts, task.ExchangeID, err)
		}
		commit(ctx, r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// processWithRetry 在当前消息上原地重试 processor，最多 p.MaxAttempts 次。
// FetchMessage 不会重新投递未提交的消息，重试必须在这里完成。
func processWithRetry(ctx context.Context, clock poll.Clock, p poll.Policy, processor TaskProcessor, task tasks.UsageTask) error {
	attempt := 0
	lastErr, err := poll.Until(ctx, clock, p,
		func(ctx context.Context) (error, error) {
			attempt++
			perr := processor.Process(ctx, task)
			if perr != nil {
				log.Warnf("写入用量失败: exchange=%s, attempt=%d, Error: %v", task.ExchangeID, attempt, perr)
			}
			return perr, nil
		},
		func(perr error) bool { return perr == nil })
	if errors.Is(err, poll.ErrExhausted) {
		return fmt.Errorf("usage task %s: %w", task.ExchangeID, lastErr)
	}
	return err
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
