package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merakihec/internal/data"
)

func TestNew_RejectsEmptyBody(t *testing.T) {
	_, err := New("meraki_api", KindNetwork, "merakihec", nil, time.Time{})
	require.ErrorIs(t, err, ErrEmptyBody)

	_, err = New("meraki_api", KindNetwork, "merakihec", data.Record{}, time.Time{})
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestNew_RequiresKind(t *testing.T) {
	_, err := New("meraki_api", "", "merakihec", data.Record{"id": "N_1"}, time.Time{})
	require.Error(t, err)
}

func TestNew_TimeIsOptional(t *testing.T) {
	e, err := New("meraki_api", KindNetwork, "merakihec", data.Record{"id": "N_1"}, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, e.Time)

	ts := time.Date(2019, 12, 5, 7, 38, 40, 0, time.UTC)
	e, err = New("meraki_api", KindLossLatency, "merakihec", data.Record{"lossPercent": 0}, ts)
	require.NoError(t, err)
	require.NotNil(t, e.Time)
	assert.Equal(t, float64(ts.Unix()), *e.Time)
}

func TestEncode_WritesHECEnvelopes(t *testing.T) {
	b := Builder{Index: "meraki_api", Source: "merakihec"}
	ts := time.Date(2019, 12, 5, 7, 38, 40, 0, time.UTC)

	first, err := b.New(KindNetwork, data.Record{"id": "N_1", "name": "<branch>"}, time.Time{})
	require.NoError(t, err)
	second, err := b.New(KindLossLatency, data.Record{"latencyMs": json.Number("20.5")}, ts)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []Event{first, second}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	assert.JSONEq(t, `{"index":"meraki_api","sourcetype":"meraki_api_network","source":"merakihec","event":{"id":"N_1","name":"<branch>"}}`, lines[0])
	assert.JSONEq(t, `{"index":"meraki_api","sourcetype":"meraki_api_device_loss_and_latency","source":"merakihec","time":1575531520,"event":{"latencyMs":20.5}}`, lines[1])
	assert.Contains(t, lines[0], "<branch>", "HTML characters must not be escaped")
	assert.NotContains(t, lines[0], `"time"`)
}

func TestMarshal_EmptyBatch(t *testing.T) {
	payload, err := Marshal(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)
}
