package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ============================================================================
// 风控消费者
// ============================================================================
//
// 订阅 wallet.funds_withdrawn / wallet.transfer_completed，prefetch 1。
// 失败重试走 TTL 等待队列：消息发到 <exchange>.wait.<delay> 交换机，
// 等待队列到期后按原路由键死信回主交换机，重新进入主队列。
// 重试次数记在 x-retry-count 头里，用完后 Nack 进死信队列。

const reconnectDelay = 5 * time.Second

// RetryCountHeader 重试次数头
const RetryCountHeader = "x-retry-count"

// FraudConsumer 风控消费者
type FraudConsumer struct {
	mqCfg    *config.RabbitMQConfig
	delays   []int // 各次重试的等待毫秒数
	detector *FraudDetector
	stopCh   chan struct{}
}

func NewFraudConsumer(cfg *config.Config, detector *FraudDetector) *FraudConsumer {
	return &FraudConsumer{
		mqCfg:    &cfg.RabbitMQ,
		delays:   cfg.Business.RetryDelaysMs,
		detector: detector,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动消费循环，连接断开后自动重连
func (c *FraudConsumer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			default:
			}

			if err := c.runOnce(ctx); err != nil {
				log.Printf("[FraudConsumer] 消费中断，%v 后重连: %v", reconnectDelay, err)
			} else {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()
	log.Println("[FraudConsumer] 消费者已启动")
}

// Stop 停止消费
func (c *FraudConsumer) Stop() {
	close(c.stopCh)
	log.Println("[FraudConsumer] 消费者已停止")
}

func (c *FraudConsumer) runOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.mqCfg.URL)
	if err != nil {
		return fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("打开 channel 失败: %w", err)
	}
	defer channel.Close()

	if err := c.setupTopology(channel); err != nil {
		return err
	}

	// prefetch 1：多实例间按处理能力分摊
	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("设置 QoS 失败: %w", err)
	}

	deliveries, err := channel.Consume(c.mqCfg.FraudQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅队列失败: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	log.Printf("[FraudConsumer] 开始消费队列 %s", c.mqCfg.FraudQueue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		case amqpErr := <-connClosed:
			if amqpErr == nil {
				return errors.New("连接已关闭")
			}
			return amqpErr
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("消费通道已关闭")
			}
			c.handle(ctx, channel, delivery)
		}
	}
}

// setupTopology 声明主交换机、主队列、死信和等待队列
func (c *FraudConsumer) setupTopology(channel *amqp.Channel) error {
	exchange := c.mqCfg.Exchange
	queue := c.mqCfg.FraudQueue
	dlx := exchange + ".dlx"
	dlq := queue + ".dlq"

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明主交换机失败: %w", err)
	}
	if err := channel.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明死信交换机失败: %w", err)
	}
	if _, err := channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明死信队列失败: %w", err)
	}
	if err := channel.QueueBind(dlq, "#", dlx, false, nil); err != nil {
		return fmt.Errorf("绑定死信队列失败: %w", err)
	}

	if _, err := channel.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlx,
	}); err != nil {
		return fmt.Errorf("声明主队列失败: %w", err)
	}
	for _, key := range []string{
		model.RoutingKey(model.EventFundsWithdrawn),
		model.RoutingKey(model.EventTransferCompleted),
	} {
		if err := channel.QueueBind(queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("绑定主队列失败: %w", err)
		}
	}

	// 等待队列：独立交换机保留原路由键，到期死信回主交换机
	for _, delay := range c.delays {
		waitExchange := waitExchangeName(exchange, delay)
		waitQueue := fmt.Sprintf("%s.wait.%d", queue, delay)

		if err := channel.ExchangeDeclare(waitExchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("声明等待交换机失败: %w", err)
		}
		if _, err := channel.QueueDeclare(waitQueue, true, false, false, false, amqp.Table{
			"x-message-ttl":          int32(delay),
			"x-dead-letter-exchange": exchange,
		}); err != nil {
			return fmt.Errorf("声明等待队列失败: %w", err)
		}
		if err := channel.QueueBind(waitQueue, "#", waitExchange, false, nil); err != nil {
			return fmt.Errorf("绑定等待队列失败: %w", err)
		}
	}
	return nil
}

func (c *FraudConsumer) handle(ctx context.Context, channel *amqp.Channel, delivery amqp.Delivery) {
	payload := &model.EventPayload{}
	if err := json.Unmarshal(delivery.Body, payload); err != nil {
		log.Printf("[FraudConsumer] 消息无法解析，进死信队列: %v", err)
		c.nack(delivery)
		return
	}

	if err := c.detector.Process(ctx, payload); err != nil {
		log.Printf("[FraudConsumer] 处理失败: wallet=%s, err=%v", payload.WalletID, err)
		c.scheduleRetry(ctx, channel, delivery)
		return
	}

	if err := delivery.Ack(false); err != nil {
		log.Printf("[FraudConsumer] Ack 失败: %v", err)
	}
}

// scheduleRetry 把原始消息发到下一级等待队列并确认原消息
// 重试次数用完后 Nack 不重回队列，由死信交换机接走
func (c *FraudConsumer) scheduleRetry(ctx context.Context, channel *amqp.Channel, delivery amqp.Delivery) {
	retryCount := retryCountFromHeaders(delivery.Headers)
	if retryCount >= len(c.delays) {
		log.Printf("[FraudConsumer] 重试次数用完，进死信队列: key=%s", delivery.RoutingKey)
		c.nack(delivery)
		return
	}

	delay := c.delays[retryCount]
	err := channel.PublishWithContext(ctx,
		waitExchangeName(c.mqCfg.Exchange, delay),
		delivery.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{RetryCountHeader: int32(retryCount + 1)},
			Body:         delivery.Body,
		},
	)
	if err != nil {
		log.Printf("[FraudConsumer] 转发等待队列失败，消息重回主队列: %v", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			log.Printf("[FraudConsumer] Nack 失败: %v", nackErr)
		}
		return
	}
	if err := delivery.Ack(false); err != nil {
		log.Printf("[FraudConsumer] Ack 失败: %v", err)
	}
}

func (c *FraudConsumer) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		log.Printf("[FraudConsumer] Nack 失败: %v", err)
	}
}

func waitExchangeName(exchange string, delay int) string {
	return fmt.Sprintf("%s.wait.%d", exchange, delay)
}

// retryCountFromHeaders 读取 x-retry-count，缺省为 0
func retryCountFromHeaders(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[RetryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
