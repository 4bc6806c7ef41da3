package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	MercadoPago MercadoPagoConfig
	Outbox      OutboxConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type KafkaConfig struct {
	Brokers            []string
	OrderCreatedTopic  string
	ConsumerGroup      string
	PaymentClosedTopic string
}

type MercadoPagoConfig struct {
	BaseURL     string
	AccessToken string
	UserID      string
	POS         string
	WebhookKey  string
	CallbackURL string
	HTTPTimeout time.Duration
	QRExpiry    time.Duration
}

type OutboxConfig struct {
	DispatchInterval time.Duration
	BatchSize        int
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_ORDER_CREATED_TOPIC", "order.created.v1")
	viper.SetDefault("KAFKA_CONSUMER_GROUP", "payment-api")
	viper.SetDefault("KAFKA_PAYMENT_CLOSED_TOPIC", "payment.closed.v1")
	viper.SetDefault("MP_URL", "https://api.mercadopago.com")
	viper.SetDefault("MP_HTTP_TIMEOUT", "10s")
	viper.SetDefault("MP_QR_EXPIRY", "30m")
	viper.SetDefault("OUTBOX_DISPATCH_INTERVAL", "5s")
	viper.SetDefault("OUTBOX_BATCH_SIZE", 100)

	httpTimeout, err := time.ParseDuration(viper.GetString("MP_HTTP_TIMEOUT"))
	if err != nil {
		httpTimeout = 10 * time.Second
	}
	qrExpiry, err := time.ParseDuration(viper.GetString("MP_QR_EXPIRY"))
	if err != nil {
		qrExpiry = 30 * time.Minute
	}
	dispatchInterval, err := time.ParseDuration(viper.GetString("OUTBOX_DISPATCH_INTERVAL"))
	if err != nil {
		dispatchInterval = 5 * time.Second
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Brokers:            strings.Split(viper.GetString("KAFKA_BROKERS"), ","),
			OrderCreatedTopic:  viper.GetString("KAFKA_ORDER_CREATED_TOPIC"),
			ConsumerGroup:      viper.GetString("KAFKA_CONSUMER_GROUP"),
			PaymentClosedTopic: viper.GetString("KAFKA_PAYMENT_CLOSED_TOPIC"),
		},
		MercadoPago: MercadoPagoConfig{
			BaseURL:     viper.GetString("MP_URL"),
			AccessToken: viper.GetString("MP_ACCESS_TOKEN"),
			UserID:      viper.GetString("MP_USER_ID"),
			POS:         viper.GetString("MP_POS"),
			WebhookKey:  viper.GetString("MP_WEBHOOK_KEY"),
			CallbackURL: viper.GetString("MP_CALLBACK_URL"),
			HTTPTimeout: httpTimeout,
			QRExpiry:    qrExpiry,
		},
		Outbox: OutboxConfig{
			DispatchInterval: dispatchInterval,
			BatchSize:        viper.GetInt("OUTBOX_BATCH_SIZE"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.MercadoPago.AccessToken == "" {
		log.Println("WARNING: MP_ACCESS_TOKEN is not set")
	}
	if cfg.MercadoPago.WebhookKey == "" {
		log.Println("WARNING: MP_WEBHOOK_KEY is not set")
	}

	return cfg, nil
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
