package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the connection to the historical tick database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Parameter Store names of the prod connection settings.
const (
	ssmDBHost     = "WRANGLER_DB_HOST"
	ssmDBUser     = "WRANGLER_DB_USER"
	ssmDBPassword = "WRANGLER_DB_PASSWORD"
)

// DSN builds the connection string. Prod hosts keep no database credentials
// on disk or in the environment, so host, user and password are read from
// SSM Parameter Store. A parameter that cannot be read falls back to the
// configured value.
func (cfg *PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password
	if env == "prod" {
		params := loadParameters(ssmDBHost, ssmDBUser, ssmDBPassword)
		host = valueOr(params, ssmDBHost, host)
		user = valueOr(params, ssmDBUser, user)
		password = valueOr(params, ssmDBPassword, password)
	}
	return cfg.dsn(host, user, password, cfg.DBName)
}

// ServerDSN connects to the maintenance database, used to create DBName.
func (cfg *PostgresConfig) ServerDSN() string {
	return cfg.dsn(cfg.Host, cfg.User, cfg.Password, "postgres")
}

func (cfg *PostgresConfig) dsn(host, user, password, dbname string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, dbname, cfg.SSLMode,
	)

	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}

	return dsn
}

// parameterGetter is the part of the SSM client used to resolve settings.
type parameterGetter interface {
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

func loadParameters(names ...string) map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("ssm: load aws config: %v", err)
		return nil
	}
	params, err := fetchParameters(ctx, ssm.NewFromConfig(awsCfg), names...)
	if err != nil {
		log.Printf("ssm: %v", err)
		return nil
	}
	return params
}

// fetchParameters resolves names in one decrypted GetParameters call.
func fetchParameters(ctx context.Context, client parameterGetter, names ...string) (map[string]string, error) {
	decrypt := true
	out, err := client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return nil, fmt.Errorf("get parameters: %w", err)
	}
	if len(out.InvalidParameters) > 0 {
		log.Printf("ssm: unknown parameters %v", out.InvalidParameters)
	}

	params := make(map[string]string, len(out.Parameters))
	for _, p := range out.Parameters {
		if p.Name != nil && p.Value != nil {
			params[*p.Name] = *p.Value
		}
	}
	return params, nil
}

func valueOr(params map[string]string, name, fallback string) string {
	if v, ok := params[name]; ok && v != "" {
		return v
	}
	return fallback
}
