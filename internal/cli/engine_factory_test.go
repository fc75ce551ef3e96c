package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetFlow = `
tenant_id: acme
name: greet
nodes:
  start: {type: START, next: hello}
  hello: {type: MESSAGE, text: "Hi {{payload.text}}", next: done}
  done: {type: END}
`

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func publishAndTrigger(t *testing.T, eng *tendril.Engine) *domain.TriggerResult {
	t.Helper()
	ctx := context.Background()
	flow, err := tendril.ParseFlow([]byte(greetFlow))
	require.NoError(t, err)
	_, err = eng.Publish(ctx, flow)
	require.NoError(t, err)

	res, err := eng.Trigger(ctx, domain.TriggerRequest{
		TenantID:  "acme",
		ChannelID: "whatsapp",
		Phone:     "+5511999990000",
		Payload:   map[string]any{"text": "there"},
	})
	require.NoError(t, err)
	return res
}

func TestBuildEngine_Drivers(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"memory", nil},
		{"sqlite", func(c *config.Config) {
			c.Storage.Driver = config.DriverSQLite
			c.Storage.DSN = ":memory:"
		}},
		{"redis", func(c *config.Config) {
			c.Storage.Driver = config.DriverRedis
			c.Storage.RedisAddr = mr.Addr()
		}},
		{"file sessions", func(c *config.Config) {
			c.Storage.Driver = config.DriverFile
			c.Storage.DSN = t.TempDir()
		}},
		{"encrypted and masked", func(c *config.Config) {
			c.Security.EncryptionKey = testKey
			c.Security.MaskVars = []string{"^card$"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := BuildEngine(context.Background(), testConfig(t, tt.mutate), logging.NewNop())
			require.NoError(t, err)
			defer rt.Close()

			res := publishAndTrigger(t, rt.Engine)
			assert.Equal(t, []string{"Hi there"}, res.Messages())
			assert.True(t, res.Ended)
			assert.NotNil(t, rt.Purger)
		})
	}
}

func TestBuildEngine_FlowsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "acme"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme", "greet.yaml"), []byte(greetFlow), 0644))

	rt, err := BuildEngine(context.Background(), testConfig(t, func(c *config.Config) {
		c.Flows.Dir = dir
		c.Engine.FlowCacheTTL = time.Minute
	}), logging.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	flow, err := rt.Engine.Inspect(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme/greet", flow.ID)
}

func TestBuildEngine_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad key", func(c *config.Config) { c.Security.EncryptionKey = "abcd" }, "encryption_key"},
		{"bad fallback", func(c *config.Config) {
			c.Security.EncryptionKey = testKey
			c.Security.FallbackKeys = []string{"zz"}
		}, "fallback_keys"},
		{"bad mask", func(c *config.Config) { c.Security.MaskVars = []string{"("} }, ""},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "mongo" }, "mongo"},
		{"redis down", func(c *config.Config) {
			c.Storage.Driver = config.DriverRedis
			c.Storage.RedisAddr = "127.0.0.1:1"
		}, "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildEngine(context.Background(), testConfig(t, tt.mutate), logging.NewNop())
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
