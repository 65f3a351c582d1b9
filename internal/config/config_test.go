package config

import (
	"strings"
	"testing"
	"time"
)

var keys = []string{
	"HTTP_ADDR", "SERVICE_NAME", "LOG_LEVEL", "SHUTDOWN_TIMEOUT", "REQUEST_TIMEOUT",
	"LEDGER_DRIVER", "RPC_URL", "RPC_URL_DEVNET", "CHAIN_ID", "DEVNET_CHAIN_ID",
	"CONTRACT_ADDRESS", "PRIVATE_KEY", "CONFIRM_POLL_INTERVAL", "RELOAD_CONCURRENCY",
	"READMODEL_DRIVER", "POSTGRES_DSN", "POSTGRES_MAX_CONNS",
	"POSTGRES_MIN_CONNS", "SQLITE_PATH", "REDIS_ADDR",
	"EVENTS_DRIVER", "KAFKA_BROKERS", "RABBITMQ_URL", "PROJECTOR_GROUP", "PROJECTOR_WORKERS",
	"PROJECTOR_RESYNC",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()
	if c.HTTPAddr != ":8081" || c.ServiceName != "supplychain-api" {
		t.Fatalf("http defaults: %+v", c)
	}
	if c.LedgerDriver != "rpc" || c.RPCURL != "http://127.0.0.1:8545" || c.ChainID != 31337 {
		t.Fatalf("ledger defaults: %+v", c)
	}
	if c.ContractAddress != DefaultContractAddress {
		t.Fatalf("contract default")
	}
	if c.ReloadConcurrency != 4 || c.ConfirmPoll != time.Second || c.RequestTimeout != 2*time.Minute {
		t.Fatalf("tuning defaults: %+v", c)
	}
	if c.PostgresMaxConn != 4 || c.PostgresMinConn != 1 {
		t.Fatalf("pool defaults: %d/%d", c.PostgresMinConn, c.PostgresMaxConn)
	}
	if c.ProjectorResync != 5*time.Minute {
		t.Fatalf("resync default: %v", c.ProjectorResync)
	}
	if c.PrivateKey != "" || c.RedisAddr != "" {
		t.Fatalf("optional settings must default empty")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_URL_DEVNET", "http://devnet:8545")
	t.Setenv("DEVNET_CHAIN_ID", "1337")
	t.Setenv("REQUEST_TIMEOUT", "45s")
	t.Setenv("CONFIRM_POLL_INTERVAL", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("EVENTS_DRIVER", "Kafka")
	c := Load()
	if c.RPCURL != "http://devnet:8545" || c.ChainID != 1337 {
		t.Fatalf("devnet fallback: %+v", c)
	}
	if c.RequestTimeout != 45*time.Second || c.ConfirmPoll != 3*time.Second {
		t.Fatalf("durations: %v %v", c.RequestTimeout, c.ConfirmPoll)
	}
	if len(c.KafkaBrokers) != 2 || c.KafkaBrokers[1] != "k2:9092" || c.EventsDriver != "kafka" {
		t.Fatalf("kafka: %+v", c)
	}

	t.Setenv("RPC_URL", "http://primary:8545")
	t.Setenv("CHAIN_ID", "11155111")
	c = Load()
	if c.RPCURL != "http://primary:8545" || c.ChainID != 11155111 {
		t.Fatalf("explicit ledger settings: %+v", c)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGER_DRIVER", "carrier-pigeon")
	t.Setenv("READMODEL_DRIVER", "mongo")
	t.Setenv("RELOAD_CONCURRENCY", "0")
	err := Load().Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"LEDGER_DRIVER", "READMODEL_DRIVER", "RELOAD_CONCURRENCY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}

	clearEnv(t)
	t.Setenv("READMODEL_DRIVER", "postgres")
	t.Setenv("POSTGRES_MAX_CONNS", "2")
	t.Setenv("POSTGRES_MIN_CONNS", "3")
	err = Load().Validate()
	if err == nil || !strings.Contains(err.Error(), "POSTGRES_MIN_CONNS") {
		t.Fatalf("pool bounds: %v", err)
	}
}

func TestValidateSkipsPoolWhenUnused(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_MAX_CONNS", "2")
	t.Setenv("POSTGRES_MIN_CONNS", "3")
	if err := Load().Validate(); err != nil {
		t.Fatalf("pool bounds only apply to postgres: %v", err)
	}
}
