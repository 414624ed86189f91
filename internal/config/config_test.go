package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestLoad_Defaults(t *testing.T) {
	for _, name := range []string{
		"CURRENTOP_TRACK_OPERATIONS", "CURRENTOP_MAX_WORKERS", "CURRENTOP_READ_RETRIES",
		"CURRENTOP_LISTEN_ADDR", "CURRENTOP_LOG_LEVEL", "CURRENTOP_SNAPSHOT_INTERVAL",
		"CURRENTOP_FILTER", "CURRENTOP_ATTRIBUTES", "CURRENTOP_EXPORT_SPANS",
		"CURRENTOP_TRACE_ID", "CURRENTOP_WATCH", "OTEL_SERVICE_NAME",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.TrackOperations, "tracking is off unless asked for")
	assert.Equal(t, 64, cfg.MaxWorkers)
	assert.Equal(t, 32, cfg.ReadRetries)
	assert.Equal(t, "127.0.0.1:8089", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.SnapshotInterval)
	assert.False(t, cfg.ExportSpans)
	assert.False(t, cfg.Watch)
	assert.Empty(t, cfg.TraceID)
	assert.Equal(t, 2*time.Second, cfg.Workload.MaxOperation)
	assert.Equal(t, "currentop", cfg.OTEL.ServiceName)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CURRENTOP_TRACK_OPERATIONS", "true")
	t.Setenv("CURRENTOP_MAX_WORKERS", "8")
	t.Setenv("CURRENTOP_READ_RETRIES", "5")
	t.Setenv("CURRENTOP_SNAPSHOT_INTERVAL", "250ms")
	t.Setenv("CURRENTOP_ATTRIBUTES", "db=command.find;slow=secs_running > 1")
	t.Setenv("CURRENTOP_WORKLOAD_SEED", "42")
	t.Setenv("OTEL_SERVICE_NAME", "shard-a")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.TrackOperations)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 5, cfg.ReadRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.SnapshotInterval)
	assert.Equal(t, uint64(42), cfg.Workload.Seed)
	assert.Equal(t, "shard-a", cfg.OTEL.ServiceName)

	attrs, err := cfg.CustomAttributes()
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, CustomAttribute{Name: "db", Expression: "command.find"}, attrs[0])
	assert.Equal(t, CustomAttribute{Name: "slow", Expression: "secs_running > 1"}, attrs[1])
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{name: "zero workers", key: "CURRENTOP_MAX_WORKERS", value: "0"},
		{name: "too many workers", key: "CURRENTOP_MAX_WORKERS", value: "2000000"},
		{name: "negative retries", key: "CURRENTOP_READ_RETRIES", value: "-1"},
		{name: "unparseable bool", key: "CURRENTOP_TRACK_OPERATIONS", value: "maybe"},
		{name: "unknown log level", key: "CURRENTOP_LOG_LEVEL", value: "chatty"},
		{name: "bad attribute", key: "CURRENTOP_ATTRIBUTES", value: "no_equals"},
		{name: "session ratio above one", key: "CURRENTOP_WORKLOAD_SESSION_RATIO", value: "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestCustomAttributes_FlagsFollowEnvironment(t *testing.T) {
	cfg := &Config{
		Attributes:     "env_attr=env_val",
		AttributeFlags: []string{"cli_attr=cli_val"},
	}

	attrs, err := cfg.CustomAttributes()
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "env_attr", attrs[0].Name)
	assert.Equal(t, "cli_attr", attrs[1].Name)
}

func TestCustomAttributes_BadFlag(t *testing.T) {
	cfg := &Config{AttributeFlags: []string{"=value"}}

	_, err := cfg.CustomAttributes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name cannot be empty")
}

func TestParseCustomAttribute(t *testing.T) {
	attr, err := ParseCustomAttribute("check=command_name==\"find\"")
	require.NoError(t, err)
	assert.Equal(t, "check", attr.Name)
	assert.Equal(t, "command_name==\"find\"", attr.Expression)

	attr, err = ParseCustomAttribute("  op.app  =  app_name  ")
	require.NoError(t, err)
	assert.Equal(t, "op.app", attr.Name)
	assert.Equal(t, "app_name", attr.Expression)
}

func TestParseCustomAttribute_InvalidFormat(t *testing.T) {
	_, err := ParseCustomAttribute("invalid_no_equals")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid attribute format")
	assert.Contains(t, err.Error(), "NAME=EXPR")
}

func TestParseCustomAttribute_EmptyName(t *testing.T) {
	_, err := ParseCustomAttribute("=value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name cannot be empty")
}

func TestParseCustomAttribute_EmptyExpression(t *testing.T) {
	_, err := ParseCustomAttribute("name=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expression cannot be empty")
}

func TestParseAttributeString_Valid(t *testing.T) {
	attrs, err := ParseAttributeString(`foo=bar;baz=session_id != "";cmd=command_name`)

	require.NoError(t, err)
	require.Len(t, attrs, 3)
	assert.Equal(t, "foo", attrs[0].Name)
	assert.Equal(t, "bar", attrs[0].Expression)
	assert.Equal(t, "baz", attrs[1].Name)
	assert.Equal(t, `session_id != ""`, attrs[1].Expression)
	assert.Equal(t, "cmd", attrs[2].Name)
	assert.Equal(t, "command_name", attrs[2].Expression)
}

func TestParseAttributeString_Empty(t *testing.T) {
	attrs, err := ParseAttributeString("")
	require.NoError(t, err)
	assert.Nil(t, attrs)
}

func TestParseAttributeString_Whitespace(t *testing.T) {
	attrs, err := ParseAttributeString("  foo  =  bar  ;  baz  =  qux  ")

	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "foo", attrs[0].Name)
	assert.Equal(t, "bar", attrs[0].Expression)
	assert.Equal(t, "baz", attrs[1].Name)
	assert.Equal(t, "qux", attrs[1].Expression)
}

func TestParseAttributeString_EmptySections(t *testing.T) {
	attrs, err := ParseAttributeString("foo=bar;;baz=qux;")

	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "foo", attrs[0].Name)
	assert.Equal(t, "baz", attrs[1].Name)
}

func TestOTELConfig_GetEndpoint(t *testing.T) {
	cfg := OTELConfig{}
	assert.Equal(t, "localhost:4318", cfg.GetEndpoint())

	cfg.ExporterEndpoint = "collector:4318"
	assert.Equal(t, "collector:4318", cfg.GetEndpoint())

	cfg.TracesEndpoint = "traces:4318"
	assert.Equal(t, "traces:4318", cfg.GetEndpoint())
}

func TestOTELConfig_ParseResourceAttributes(t *testing.T) {
	cfg := OTELConfig{ResourceAttributes: " deployment.environment = prod ,bogus, =x,host.name=db-1"}

	assert.Equal(t, []attribute.KeyValue{
		attribute.String("deployment.environment", "prod"),
		attribute.String("host.name", "db-1"),
	}, cfg.ParseResourceAttributes())

	assert.Nil(t, (&OTELConfig{}).ParseResourceAttributes())
}
