package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/powrelay/internal/window"
	"github.com/cuongbtq/powrelay/shared/kafka"
	"github.com/cuongbtq/powrelay/shared/logger"
	"github.com/cuongbtq/powrelay/shared/postgresql"
	"github.com/cuongbtq/powrelay/shared/rabbitmq"
	"github.com/cuongbtq/powrelay/shared/redis"
	"github.com/cuongbtq/powrelay/shared/wsconn"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultRecordTTL bounds how long a stored record may still be forwarded
	DefaultRecordTTL = time.Hour
)

// Environment variables that override secrets from the config file
const (
	EnvPostgresPassword = "POSTGRES_PASSWORD"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
	EnvKafkaPassword    = "KAFKA_PASSWORD"
	EnvRedisPassword    = "REDIS_PASSWORD"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Window    WindowConfig    `yaml:"window"`
	Processor ProcessorConfig `yaml:"processor"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ServerConfig holds the HTTP server that carries websocket connections,
// health and metrics
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the fast store connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	CloseTimeout      time.Duration `yaml:"close_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// KafkaConfig holds the announcement topic configuration
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	Topic             string        `yaml:"topic"`
	Partitions        int           `yaml:"partitions"`
	ReplicationFactor int           `yaml:"replication_factor"`
	Retention         time.Duration `yaml:"retention"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ConsumerCloseWait time.Duration `yaml:"consumer_close_wait"`
	ProducerCloseWait time.Duration `yaml:"producer_close_wait"`
}

// DedupConfig holds the persistence dedup settings
type DedupConfig struct {
	RecordTTL time.Duration `yaml:"record_ttl"`
}

// WindowConfig holds the expected solution window settings
type WindowConfig struct {
	WaitTime      time.Duration `yaml:"wait_time"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ProcessorConfig holds persistence worker settings
type ProcessorConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Load reads and parses the configuration file, applies defaults and
// then environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Dedup.RecordTTL <= 0 {
		c.Dedup.RecordTTL = DefaultRecordTTL
	}
	if c.Window.WaitTime <= 0 {
		c.Window.WaitTime = window.DefaultWaitTime
	}
	if c.Window.SweepInterval <= 0 {
		c.Window.SweepInterval = window.DefaultSweepInterval
	}
	if c.Processor.Concurrency <= 0 {
		c.Processor.Concurrency = 1
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "fanout"
	}
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}
	if c.Kafka.Partitions <= 0 {
		c.Kafka.Partitions = 1
	}
	if c.Kafka.ReplicationFactor <= 0 {
		c.Kafka.ReplicationFactor = 1
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.PingInterval <= 0 {
		c.Server.PingInterval = wsconn.DefaultPingInterval
	}
	if c.Server.PongWait <= 0 {
		c.Server.PongWait = wsconn.DefaultPongWait
	}
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		EnvPostgresPassword: &c.Database.Password,
		EnvRabbitMQPassword: &c.RabbitMQ.Password,
		EnvKafkaPassword:    &c.Kafka.Password,
		EnvRedisPassword:    &c.Redis.Password,
	}
	for key, target := range overrides {
		if value, ok := os.LookupEnv(key); ok {
			*target = value
		}
	}
}

// ValidateNodeServer checks the settings the node server needs
func (c *Config) ValidateNodeServer() error {
	return errors.Join(
		c.validateServer(),
		c.validateRabbitMQ(false),
		c.validateKafka(),
	)
}

// ValidateWorkerServer checks the settings the worker server needs
func (c *Config) ValidateWorkerServer() error {
	return errors.Join(
		c.validateServer(),
		c.validateDatabase(),
		c.validateRabbitMQ(false),
		c.validateKafka(),
	)
}

// ValidateJobProcessor checks the settings the job processor needs
func (c *Config) ValidateJobProcessor() error {
	return c.validateProcessor()
}

// ValidateSolutionProcessor checks the settings the solution processor needs
func (c *Config) ValidateSolutionProcessor() error {
	return c.validateProcessor()
}

func (c *Config) validateProcessor() error {
	return errors.Join(
		c.validateServer(),
		c.validateDatabase(),
		c.validateRedis(),
		c.validateRabbitMQ(true),
		c.validateKafka(),
	)
}

func (c *Config) validateServer() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if c.Server.PongWait > 0 && c.Server.PongWait <= c.Server.PingInterval {
		return fmt.Errorf("server pong_wait (%s) must exceed ping_interval (%s)", c.Server.PongWait, c.Server.PingInterval)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	return nil
}

func (c *Config) validateRabbitMQ(needQueue bool) error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if needQueue && c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateKafka() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}

	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}

	return nil
}

// LoggerConfig converts the logging section
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		Output:       c.Logging.Output,
		EnableSource: c.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	}
}

// PostgresConfig converts the database section
func (c *Config) PostgresConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// RedisClientConfig converts the redis section
func (c *Config) RedisClientConfig() *redis.Config {
	return &redis.Config{
		Host:         c.Redis.Host,
		Port:         c.Redis.Port,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		PoolSize:     c.Redis.PoolSize,
		DialTimeout:  c.Redis.DialTimeout,
		ReadTimeout:  c.Redis.ReadTimeout,
		WriteTimeout: c.Redis.WriteTimeout,
	}
}

// RabbitMQClientConfig converts the rabbitmq section
func (c *Config) RabbitMQClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.RabbitMQ.Host,
		Port:               c.RabbitMQ.Port,
		User:               c.RabbitMQ.User,
		Password:           c.RabbitMQ.Password,
		VHost:              c.RabbitMQ.VHost,
		ExchangeName:       c.RabbitMQ.Exchange.Name,
		ExchangeType:       c.RabbitMQ.Exchange.Type,
		ExchangeDurable:    c.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: c.RabbitMQ.Exchange.AutoDelete,
		QueueName:          c.RabbitMQ.Queue.Name,
		QueueDurable:       c.RabbitMQ.Queue.Durable,
		QueueAutoDelete:    c.RabbitMQ.Queue.AutoDelete,
		QueueExclusive:     c.RabbitMQ.Queue.Exclusive,
		RoutingKey:         c.RabbitMQ.RoutingKey,
		PrefetchCount:      c.RabbitMQ.Consumer.PrefetchCount,
		Heartbeat:          c.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  c.RabbitMQ.Connection.ConnectionTimeout,
		CloseTimeout:       c.RabbitMQ.Connection.CloseTimeout,
	}
}

// KafkaClientConfig converts the kafka section
func (c *Config) KafkaClientConfig() *kafka.Config {
	return &kafka.Config{
		Brokers:           c.Kafka.Brokers,
		User:              c.Kafka.User,
		Password:          c.Kafka.Password,
		Topic:             c.Kafka.Topic,
		Partitions:        c.Kafka.Partitions,
		ReplicationFactor: c.Kafka.ReplicationFactor,
		Retention:         c.Kafka.Retention,
		DialTimeout:       c.Kafka.DialTimeout,
		ConsumerCloseWait: c.Kafka.ConsumerCloseWait,
		ProducerCloseWait: c.Kafka.ProducerCloseWait,
	}
}

// WebsocketConfig converts the server buffer settings
func (c *Config) WebsocketConfig() wsconn.Config {
	return wsconn.Config{
		ReadBufferSize:  c.Server.ReadBufferSize,
		WriteBufferSize: c.Server.WriteBufferSize,
		WriteTimeout:    c.Server.WriteTimeout,
		PingInterval:    c.Server.PingInterval,
		PongWait:        c.Server.PongWait,
	}
}

// WindowSettings converts the window section
func (c *Config) WindowSettings() window.Config {
	return window.Config{
		WaitTime:      c.Window.WaitTime,
		SweepInterval: c.Window.SweepInterval,
	}
}
