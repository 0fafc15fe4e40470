package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

type ordering string

type retryConfig struct {
	Delay    time.Duration
	MaxDelay time.Duration
}

type nodeConfig struct {
	Identifier        string
	SendQueueCapacity int
	Ordering          ordering
	Retry             retryConfig
	Aspects           []string
	Backoff           func(int) time.Duration
	Logger            interface{ Info(string, ...any) }
}

type embeddedBase struct {
	Cost int
}

type protocolConfig struct {
	embeddedBase
	URL            string
	RequestTimeout time.Duration
}

type allTypesConfig struct {
	S   string
	B   bool
	I   int
	I8  int8
	I16 int16
	I32 int32
	I64 int64
	U   uint
	U8  uint8
	U16 uint16
	U32 uint32
	U64 uint64
	F32 float32
	F64 float64
	D   time.Duration
	L   []string
}

func TestLoad_NodeConfig(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"MTS_TRANSPORT_IDENTIFIER":          "node-a",
		"MTS_TRANSPORT_SEND_QUEUE_CAPACITY": "64",
		"MTS_TRANSPORT_ORDERING":            "priority",
		"MTS_TRANSPORT_RETRY_DELAY":         "250ms",
		"MTS_TRANSPORT_RETRY_MAX_DELAY":     "5s",
		"MTS_TRANSPORT_ASPECTS":             "trace, stats,,dedupe ",
	})}

	var cfg nodeConfig
	require.NoError(t, l.Load("transport", &cfg))

	assert.Equal(t, "node-a", cfg.Identifier)
	assert.Equal(t, 64, cfg.SendQueueCapacity)
	assert.Equal(t, ordering("priority"), cfg.Ordering)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, []string{"trace", "stats", "dedupe"}, cfg.Aspects)
	assert.Nil(t, cfg.Backoff)
	assert.Nil(t, cfg.Logger)
}

func TestLoad_EmptyListClears(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{"MTS_TRANSPORT_ASPECTS": ""})}

	cfg := nodeConfig{Aspects: []string{"trace"}}
	require.NoError(t, l.Load("transport", &cfg))
	assert.Empty(t, cfg.Aspects)
}

func TestLoad_EmbeddedStruct(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"MTS_NATS_COST":            "25",
		"MTS_NATS_URL":             "nats://broker:4222",
		"MTS_NATS_REQUEST_TIMEOUT": "2s",
	})}

	var cfg protocolConfig
	require.NoError(t, l.Load("nats", &cfg))
	assert.Equal(t, 25, cfg.Cost)
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
}

func TestLoad_AllTypes(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"MTS_TYPES_S":   "hello",
		"MTS_TYPES_B":   "true",
		"MTS_TYPES_I":   "-42",
		"MTS_TYPES_I8":  "-8",
		"MTS_TYPES_I16": "-16",
		"MTS_TYPES_I32": "-32",
		"MTS_TYPES_I64": "-64",
		"MTS_TYPES_U":   "42",
		"MTS_TYPES_U8":  "8",
		"MTS_TYPES_U16": "16",
		"MTS_TYPES_U32": "32",
		"MTS_TYPES_U64": "64",
		"MTS_TYPES_F32": "3.14",
		"MTS_TYPES_F64": "2.718",
		"MTS_TYPES_D":   "500ms",
		"MTS_TYPES_L":   "a,b",
	})}

	var cfg allTypesConfig
	require.NoError(t, l.Load("types", &cfg))

	assert.Equal(t, allTypesConfig{
		S: "hello", B: true,
		I: -42, I8: -8, I16: -16, I32: -32, I64: -64,
		U: 42, U8: 8, U16: 16, U32: 32, U64: 64,
		F32: 3.14, F64: 2.718,
		D: 500 * time.Millisecond,
		L: []string{"a", "b"},
	}, cfg)
}

func TestLoad_Overflow(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{"MTS_TYPES_I8": "300"})}

	var cfg allTypesConfig
	assert.Error(t, l.Load("types", &cfg))
}

func TestLoad_CustomPrefix(t *testing.T) {
	l := Loader{
		Prefix: "MYNODE",
		lookup: envMap(map[string]string{"MYNODE_TRANSPORT_IDENTIFIER": "custom"}),
	}

	var cfg nodeConfig
	require.NoError(t, l.Load("transport", &cfg))
	assert.Equal(t, "custom", cfg.Identifier)
}

func TestLoad_EmptyStage(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{"MTS_IDENTIFIER": "root"})}

	var cfg nodeConfig
	require.NoError(t, l.Load("", &cfg))
	assert.Equal(t, "root", cfg.Identifier)
}

func TestLoad_StageNormalization(t *testing.T) {
	tests := []struct {
		stage string
		key   string
	}{
		{"protocol-http", "MTS_PROTOCOL_HTTP_IDENTIFIER"},
		{"Name Service", "MTS_NAME_SERVICE_IDENTIFIER"},
		{"UPPER", "MTS_UPPER_IDENTIFIER"},
		{"with_underscore", "MTS_WITH_UNDERSCORE_IDENTIFIER"},
		{"dots.are.dropped", "MTS_DOTSAREDROPPED_IDENTIFIER"},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			l := Loader{lookup: envMap(map[string]string{tt.key: "x"})}

			var cfg nodeConfig
			require.NoError(t, l.Load(tt.stage, &cfg))
			assert.Equal(t, "x", cfg.Identifier, tt.key)
		})
	}
}

func TestLoad_PreservesUnsetFields(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{"MTS_TRANSPORT_IDENTIFIER": "b"})}

	cfg := nodeConfig{SendQueueCapacity: 42, Aspects: []string{"trace"}}
	require.NoError(t, l.Load("transport", &cfg))
	assert.Equal(t, "b", cfg.Identifier)
	assert.Equal(t, 42, cfg.SendQueueCapacity)
	assert.Equal(t, []string{"trace"}, cfg.Aspects)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"MTS_TRANSPORT_SEND_QUEUE_CAPACITY": "many",
		"MTS_TRANSPORT_RETRY_DELAY":         "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			l := Loader{lookup: envMap(map[string]string{key: value})}

			var cfg nodeConfig
			err := l.Load("transport", &cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_RequiresStructPointer(t *testing.T) {
	assert.Error(t, Loader{}.Load("x", nodeConfig{}))

	n := 1
	assert.Error(t, Loader{}.Load("x", &n))
}

func TestKeys(t *testing.T) {
	keys := Keys("transport", nodeConfig{})
	assert.Equal(t, []string{
		"MTS_TRANSPORT_IDENTIFIER",
		"MTS_TRANSPORT_SEND_QUEUE_CAPACITY",
		"MTS_TRANSPORT_ORDERING",
		"MTS_TRANSPORT_RETRY_DELAY",
		"MTS_TRANSPORT_RETRY_MAX_DELAY",
		"MTS_TRANSPORT_ASPECTS",
	}, keys)

	assert.Equal(t, []string{
		"MTS_NATS_COST",
		"MTS_NATS_URL",
		"MTS_NATS_REQUEST_TIMEOUT",
	}, Keys("nats", &protocolConfig{}))

	assert.Nil(t, Keys("x", 3))
}

func TestToUpperSnake(t *testing.T) {
	tests := map[string]string{
		"Identifier":               "IDENTIFIER",
		"SendQueueCapacity":        "SEND_QUEUE_CAPACITY",
		"DestinationQueueCapacity": "DESTINATION_QUEUE_CAPACITY",
		"URL":                      "URL",
		"URLPath":                  "URL_PATH",
		"MaxBodySize":              "MAX_BODY_SIZE",
		"Route53":                  "ROUTE53",
		"IPv4Addr":                 "I_PV4_ADDR",
	}
	for in, want := range tests {
		assert.Equal(t, want, toUpperSnake(in), in)
	}
}
