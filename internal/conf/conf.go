package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 配置用时长类型，支持 "5s" / "1m" 字符串或秒数
type Duration time.Duration

// UnmarshalJSON 实现 JSON 反序列化（kratos config Scan 走 JSON 编解码）
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		// 纯数字按秒处理
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}

// AsDuration 转换为 time.Duration
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Bootstrap 启动配置
type Bootstrap struct {
	Server         *Server         `json:"server"`
	Data           *Data           `json:"data"`
	Billing        *Billing        `json:"billing"`
	Reconciliation *Reconciliation `json:"reconciliation"`
}

// Server 服务配置
type Server struct {
	Http *HTTP `json:"http"`
}

// HTTP HTTP 服务配置
type HTTP struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
	Outbox   *Outbox   `json:"outbox"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr         string   `json:"addr"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
}

// Rocketmq 消息队列配置
type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	// UsageTopic 生产方上报用量事件的主题（usage.recorded）
	UsageTopic string `json:"usage_topic"`
	// EventsTopic 本服务对外发布领域事件的主题（outbox relay 写入，tag 为事件类型）
	EventsTopic string `json:"events_topic"`
	RetryTimes  int32  `json:"retry_times"`
}

// Outbox 发件箱投递配置
type Outbox struct {
	Interval  Duration `json:"interval"`
	BatchSize int32    `json:"batch_size"`
}

// Billing 计费配置
type Billing struct {
	// FreeTierTokens 每个计费周期的免费额度（token 单位）
	FreeTierTokens int64 `json:"free_tier_tokens"`
	// SubscriptionTokens 每个计费周期的订阅内含额度（token 单位）
	SubscriptionTokens int64 `json:"subscription_tokens"`
	// BalanceLowTokens 余额低水位告警阈值
	BalanceLowTokens int64 `json:"balance_low_tokens"`
	// DebitMaxRetries 扣款乐观锁最大重试次数
	DebitMaxRetries int32 `json:"debit_max_retries"`
}

// Reconciliation 对账配置
type Reconciliation struct {
	// Mode 漂移处理方式：correct（回写为账本重算值）或 freeze（冻结钱包待人工处理）
	Mode string `json:"mode"`
	// Cron 对账任务调度表达式（秒级，默认每小时）
	Cron string `json:"cron"`
	// RolloverCron 配额周期滚动表达式（默认每月1日 00:00）
	RolloverCron string `json:"rollover_cron"`
}
