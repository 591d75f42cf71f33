package service

import (
	"context"
	"sync"
	"time"

	"study-gateway/internal/config"
	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/log"
	"study-gateway/pkg/tasks"
)

const usageWriteTimeout = 10 * time.Second

// UsageSink 接收用量事件：直接写库，或者先投递到 Kafka。
type UsageSink interface {
	Record(ctx context.Context, task tasks.UsageTask) error
}

// UsageWriter 把用量事件写入账本，同时实现 UsageSink 与 Kafka 消费者的 TaskProcessor。
type UsageWriter struct {
	repo repository.UsageRepository
}

// NewUsageWriter 创建一个新的 UsageWriter。
func NewUsageWriter(repo repository.UsageRepository) *UsageWriter {
	return &UsageWriter{repo: repo}
}

func (w *UsageWriter) Record(ctx context.Context, task tasks.UsageTask) error {
	inserted, err := w.repo.RecordUsage(ctx, &model.UsageRecord{
		ExchangeID:    task.ExchangeID,
		UserID:        task.UserID,
		AssistantType: task.AssistantType,
		Strategy:      task.Strategy,
		InputTokens:   task.InputTokens,
		OutputTokens:  task.OutputTokens,
		TokensUsed:    task.InputTokens + task.OutputTokens,
		CostEstimate:  task.CostEstimate,
		Timestamp:     task.Timestamp,
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Debugf("用量事件已记录过，跳过: exchange=%s", task.ExchangeID)
	}
	return nil
}

// Process 满足 kafka.TaskProcessor。
func (w *UsageWriter) Process(ctx context.Context, task tasks.UsageTask) error {
	return w.Record(ctx, task)
}

// UsageAccountant 在回复确定之后估算 token 与费用并异步写出，失败只记录日志。
type UsageAccountant struct {
	sink UsageSink
	cfg  config.UsageConfig
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewUsageAccountant 创建一个新的 UsageAccountant。
func NewUsageAccountant(sink UsageSink, cfg config.UsageConfig) *UsageAccountant {
	return &UsageAccountant{sink: sink, cfg: cfg, now: time.Now}
}

// Estimate 按字符比例估算输入输出 token 并计算费用。
func (a *UsageAccountant) Estimate(ex *Exchange, reply Reply) tasks.UsageTask {
	input := EstimateTokens(ex.Message, a.cfg.CharsPerToken)
	output := EstimateTokens(reply.Text, a.cfg.CharsPerToken)
	return tasks.UsageTask{
		ExchangeID:    ex.ID,
		UserID:        ex.UserID,
		AssistantType: ex.Assistant,
		Strategy:      reply.Strategy,
		InputTokens:   input,
		OutputTokens:  output,
		CostEstimate:  EstimateCost(input, output, a.cfg.InputRatePer1K, a.cfg.OutputRatePer1K),
		Timestamp:     a.now().UTC(),
	}
}

// Record 在独立的 goroutine 中写出用量，不阻塞调用方。
func (a *UsageAccountant) Record(ex *Exchange, reply Reply) {
	task := a.Estimate(ex, reply)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()
		if err := a.sink.Record(ctx, task); err != nil {
			log.Errorw("写入用量失败", "exchange", task.ExchangeID, "userID", task.UserID, "error", err)
		}
	}()
}

// Wait 等待所有在途的用量写入完成，用于优雅退出。
func (a *UsageAccountant) Wait() {
	a.wg.Wait()
}
