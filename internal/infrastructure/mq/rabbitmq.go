package mq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"walletsvc/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ============================================================================
// RabbitMQ 生产者
// ============================================================================
//
// 主交换机为 topic 类型，路由键 wallet.<event_type_lowercase>。
// 发送开启 publisher confirm：拿不到 confirm 视为发送失败，
// 发件箱行保持未投递状态，由中继任务下个周期重发（至少一次语义）。

var (
	publisher *Publisher
	// ErrNotConfirmed broker 未在超时内确认消息
	ErrNotConfirmed = errors.New("消息未被 broker 确认")
)

const confirmTimeout = 5 * time.Second

// Publisher 带 confirm 的同步生产者
// channel 非并发安全，用互斥锁串行化发送
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	exchange string
}

// InitRabbitMQ 初始化全局生产者并声明主交换机
func InitRabbitMQ(cfg *config.RabbitMQConfig) *Publisher {
	p, err := NewPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		log.Fatalf("创建 RabbitMQ 生产者失败: %v", err)
	}
	publisher = p
	log.Println("RabbitMQ 生产者创建成功")
	return p
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开 channel 失败: %w", err)
	}

	// 主交换机：topic、持久化
	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("声明交换机失败: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("开启 confirm 模式失败: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		confirms: channel.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange: exchange,
	}, nil
}

// Publish 发送一条持久化消息并等待 broker 确认
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}

	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return ErrNotConfirmed
		}
		return nil
	case <-time.After(confirmTimeout):
		return ErrNotConfirmed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// SendMessage 包级发送入口（与全局生产者配合使用）
func SendMessage(ctx context.Context, routingKey string, body []byte) error {
	if publisher == nil {
		return errors.New("RabbitMQ 生产者未初始化")
	}
	return publisher.Publish(ctx, routingKey, body)
}

// CloseRabbitMQ 关闭全局生产者
func CloseRabbitMQ() {
	if publisher != nil {
		publisher.Close()
	}
}
