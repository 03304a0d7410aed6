package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "default_time_out": 5000,
  "guard": {"core_pool_size": 1, "max_pool_size": 4, "max_pending_requests": 100},
  "queues": [
    {"name": "default", "core_pool_size": 2, "max_pool_size": 8, "keep_alive_time": 60000, "max_pending_requests": 50},
    {"name": "slow", "core_pool_size": 1, "max_pool_size": 2, "keep_alive_time": 1000, "max_pending_requests": 5}
  ],
  "systems": [
    {"name": "billing", "default_queue": "slow", "default_time_out": 2000,
     "calls": [{"method": "charge", "time_out": 500}, {"method": "refund", "queue": "default"}]}
  ]
}`

const sampleYAML = `
default_time_out: 5000
queues:
  - name: slow
    core_pool_size: 1
    max_pool_size: 2
    keep_alive_time: 1000
    max_pending_requests: 5
systems:
  - name: billing
    default_queue: slow
    calls:
      - method: charge
        time_out: 500
`

func TestParseJSON(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleJSON), "json")
	require.NoError(t, err)

	assert.Equal(t, int64(5000), doc.DefaultTimeOut)
	require.NotNil(t, doc.Guard)
	assert.Equal(t, 4, doc.Guard.MaxPoolSize)
	require.Len(t, doc.Queues, 2)
	assert.Equal(t, "slow", doc.Queues[1].Name)
	assert.Equal(t, time.Second, doc.Queues[1].PoolConfig().KeepAlive)
	assert.Equal(t, 5, doc.Queues[1].PoolConfig().QueueCapacity)

	require.Len(t, doc.Systems, 1)
	billing := doc.Systems[0]
	assert.Equal(t, "slow", billing.DefaultQueue)
	assert.Equal(t, int64(2000), billing.DefaultTimeOut)
	require.Len(t, billing.Calls, 2)
	assert.Equal(t, "charge", billing.Calls[0].Method)
	assert.Equal(t, int64(500), billing.Calls[0].TimeOut)
	assert.Equal(t, "default", billing.Calls[1].Queue)
}

func TestParseYAML(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleYAML), "yaml")
	require.NoError(t, err)
	assert.Nil(t, doc.Guard)
	require.Len(t, doc.Systems, 1)
	assert.Equal(t, int64(500), doc.Systems[0].Calls[0].TimeOut)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o600))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, doc.Queues, 2)
	assert.Equal(t, "json", FormatOf(path))
}

func TestYAMLRoundTrip(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleJSON), "json")
	require.NoError(t, err)

	out, err := doc.YAML()
	require.NoError(t, err)
	again, err := Parse(strings.NewReader(string(out)), "yaml")
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr string
	}{
		{
			name: "unknown system queue",
			doc: Document{
				Systems: []System{{Name: "a", DefaultQueue: "missing"}},
			},
			wantErr: `unknown queue "missing"`,
		},
		{
			name: "unknown call queue",
			doc: Document{
				Queues:  []Queue{{Name: "q", MaxPoolSize: 1}},
				Systems: []System{{Name: "a", Calls: []Call{{Method: "m", Queue: "nope"}}}},
			},
			wantErr: `unknown queue "nope"`,
		},
		{
			name:    "duplicate queue",
			doc:     Document{Queues: []Queue{{Name: "q", MaxPoolSize: 1}, {Name: "q", MaxPoolSize: 1}}},
			wantErr: "defined twice",
		},
		{
			name:    "bad pool sizes",
			doc:     Document{Queues: []Queue{{Name: "q", CorePoolSize: 5, MaxPoolSize: 1}}},
			wantErr: "exceeds max size",
		},
		{
			name:    "negative timeout",
			doc:     Document{Systems: []System{{Name: "a", Calls: []Call{{Method: "m", TimeOut: -1}}}}},
			wantErr: "time_out must not be negative",
		},
		{
			name:    "guard clash",
			doc:     Document{Guard: &Queue{Name: "q", MaxPoolSize: 1}, Queues: []Queue{{Name: "q", MaxPoolSize: 1}}},
			wantErr: "clashes",
		},
		{
			name: "implicit default queue",
			doc:  Document{Systems: []System{{Name: "a", DefaultQueue: DefaultQueueName}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseRejectsUnknownQueue(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"systems":[{"name":"a","default_queue":"ghost"}]}`), "json")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
