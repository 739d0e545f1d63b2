package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWorker struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
	mu       *sync.Mutex
	ctx      context.Context
}

func (w *recordingWorker) record(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.log = append(*w.log, s)
}

func (w *recordingWorker) Start(ctx context.Context) error {
	w.ctx = ctx
	w.record("start " + w.name)
	return w.startErr
}

func (w *recordingWorker) Stop() error {
	w.record("stop " + w.name)
	return w.stopErr
}

func (w *recordingWorker) Name() string { return w.name }

func TestWorkerManager_Lifecycle(t *testing.T) {
	var log []string
	var mu sync.Mutex
	newWorker := func(name string) *recordingWorker {
		return &recordingWorker{name: name, log: &log, mu: &mu}
	}

	m := NewWorkerManager(zap.NewNop())
	engine, sweep := newWorker("engine"), newWorker("sweep")
	m.Register(engine)
	m.Register(sweep)
	assert.Equal(t, 2, m.GetWorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start engine", "start sweep", "stop sweep", "stop engine"}, log)

	require.Error(t, engine.ctx.Err(), "run context is cancelled on stop")
	require.NoError(t, m.StopAll())
}

func TestWorkerManager_StartFailureIsReportedAndSkippedOnStop(t *testing.T) {
	var log []string
	var mu sync.Mutex

	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "broken", startErr: errors.New("no db"), log: &log, mu: &mu})
	m.Register(&recordingWorker{name: "ok", stopErr: errors.New("stuck"), log: &log, mu: &mu})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: no db")
	assert.True(t, m.IsRunning())

	err = m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ok: stuck")
	assert.Equal(t, []string{"start broken", "start ok", "stop ok"}, log)
}
