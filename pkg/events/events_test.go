package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "confmon.backup.s1", Subject(KindBackup, "s1"))
	assert.Equal(t, "confmon.deploy.s1", Subject(KindDeploy, "s1"))
}

func TestMemory(t *testing.T) {
	var p Publisher = &Memory{}
	ctx := context.Background()
	p.Publish(ctx, Event{Kind: KindBackup, ServerID: "s1", Snapshot: "abc"})
	p.Publish(ctx, Event{Kind: KindDeploy, ServerID: "s1", State: "committed"})

	m := p.(*Memory)
	assert.Len(t, m.Events(""), 2)
	require.Len(t, m.Events(KindDeploy), 1)
	assert.Equal(t, "committed", m.Events(KindDeploy)[0].State)

	Nop{}.Publish(ctx, Event{})
}

func TestEventEncoding(t *testing.T) {
	buf, err := json.Marshal(Event{Kind: KindDeploy, ServerID: "s1", State: "rolled_back", Error: "boom"})
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"state":"rolled_back"`)
	assert.NotContains(t, string(buf), `"snapshot"`)
}

func TestNewNATSUnreachable(t *testing.T) {
	_, err := NewNATS("nats://127.0.0.1:1", zaptest.NewLogger(t))
	require.Error(t, err)
}
