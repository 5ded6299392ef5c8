package svc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubService struct {
	started bool
	stopErr error
}

func (s *stubService) Start()        { s.started = true }
func (s *stubService) Stop() error   { return s.stopErr }
func (s *stubService) Status() error { return nil }

func TestRegistryStartStopOrder(t *testing.T) {
	var order []string
	r := NewRegistry()
	r.Register("a", &orderedService{name: "a", order: &order})
	r.Register("b", &orderedService{name: "b", order: &order})

	r.StartAll()
	require.Equal(t, []string{"start:a", "start:b"}, order)

	order = nil
	require.NoError(t, r.StopAll())
	require.Equal(t, []string{"stop:b", "stop:a"}, order)
}

type orderedService struct {
	name  string
	order *[]string
}

func (s *orderedService) Start()        { *s.order = append(*s.order, "start:"+s.name) }
func (s *orderedService) Stop() error   { *s.order = append(*s.order, "stop:"+s.name); return nil }
func (s *orderedService) Status() error { return nil }

func TestRegistryStopAllCollectsFirstError(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", &stubService{})
	r.Register("broken", &stubService{stopErr: errors.New("boom")})

	err := r.StopAll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestRunServiceLifecycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			return nil
		case <-release:
			return errors.New("exited early")
		}
	}

	rs := NewRunService(run)
	require.NoError(t, rs.Status())

	rs.Start()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run loop never started")
	}
	require.NoError(t, rs.Status())

	require.NoError(t, rs.Stop())
}

func TestRunServiceReportsRunError(t *testing.T) {
	errBoom := errors.New("boom")
	rs := NewRunService(func(ctx context.Context) error { return errBoom })

	rs.Start()
	err := rs.Stop()
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, rs.Status(), errBoom)
}
