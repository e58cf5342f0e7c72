package trace

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderOrdering(t *testing.T) {
	rec := NewRecorder()
	rec.Record(0, "TopologyGathering", "")
	rec.Record(1, "TopologyGathering", "")
	rec.Record(0, "Matching", "")

	events := rec.Events()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i, ev.Sequence)
	}
	assert.Equal(t, "Matching", events[2].Phase)

	mine := rec.ByParticipant(0)
	require.Len(t, mine, 2)
	assert.Equal(t, "TopologyGathering", mine[0].Phase)
	assert.Equal(t, "Matching", mine[1].Phase)
}

func TestRecorderConcurrentRecord(t *testing.T) {
	rec := NewRecorder()
	const participants = 8
	const perParticipant = 50

	var wg sync.WaitGroup
	for p := 0; p < participants; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perParticipant; i++ {
				rec.Record(p, "Running", "")
			}
		}(p)
	}
	wg.Wait()

	assert.Len(t, rec.Events(), participants*perParticipant)
	for p := 0; p < participants; p++ {
		assert.Len(t, rec.ByParticipant(p), perParticipant)
	}
}

func TestRecorderWriteJSON(t *testing.T) {
	rec := NewRecorder()
	rec.Record(2, "ChannelSetup", "channel/frames")

	var buf bytes.Buffer
	require.NoError(t, rec.WriteJSON(&buf))

	var decoded []Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, 2, decoded[0].Participant)
	assert.Equal(t, "channel/frames", decoded[0].Detail)
}
