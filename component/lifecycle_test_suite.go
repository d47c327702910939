package component

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"github.com/c360/mediaflow/errors"
)

// LifecycleFactory creates a fresh, unconnected component for one test.
type LifecycleFactory func(t *testing.T) Component

// LifecycleSuite checks the state machine contract every component must meet.
// Ports are disabled in SetupTest so the component can reach IDLE alone.
type LifecycleSuite struct {
	suite.Suite
	Factory LifecycleFactory

	comp  Component
	mu    sync.Mutex
	steps []State
}

// StandardLifecycleTests runs LifecycleSuite against components from factory.
func StandardLifecycleTests(t *testing.T, factory LifecycleFactory) {
	suite.Run(t, &LifecycleSuite{Factory: factory})
}

func (s *LifecycleSuite) SetupTest() {
	s.comp = s.Factory(s.T())
	s.Require().NotNil(s.comp, "Component factory returned nil")
	for _, p := range s.comp.Ports() {
		s.Require().NoError(p.SetEnabled(false))
	}
	s.mu.Lock()
	s.steps = nil
	s.mu.Unlock()
	s.comp.OnStateChange(func(_, to State) {
		s.mu.Lock()
		s.steps = append(s.steps, to)
		s.mu.Unlock()
	})
}

func (s *LifecycleSuite) TearDownTest() {
	if s.comp.State() != StateInvalid {
		s.NoError(s.comp.SetState(context.Background(), StateUnloaded), "teardown unload")
	}
}

func (s *LifecycleSuite) recorded() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.steps...)
}

func (s *LifecycleSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *LifecycleSuite) TestInitialState() {
	s.Equal(StateUnloaded, s.comp.State())
	s.NoError(s.comp.Err())
}

func (s *LifecycleSuite) TestShortestPath() {
	s.Require().NoError(s.comp.SetState(s.ctx(), StateIdle))
	s.Equal(StateIdle, s.comp.State())
	s.Equal([]State{StateLoaded, StateWaitForResources, StateIdle}, s.recorded())
}

func (s *LifecycleSuite) TestFullCycle() {
	ctx := s.ctx()
	for _, target := range []State{StateExecuting, StatePaused, StateExecuting, StateIdle, StateLoaded, StateUnloaded} {
		s.Require().NoError(s.comp.SetState(ctx, target), "to %s", target)
		s.Equal(target, s.comp.State())
	}
	s.Equal([]State{
		StateLoaded, StateWaitForResources, StateIdle, StateExecuting,
		StatePaused, StateExecuting, StateIdle, StateLoaded, StateUnloaded,
	}, s.recorded())
}

func (s *LifecycleSuite) TestPausedToUnloaded() {
	ctx := s.ctx()
	s.Require().NoError(s.comp.SetState(ctx, StatePaused))
	s.Require().NoError(s.comp.SetState(ctx, StateUnloaded))
	s.Equal(StateUnloaded, s.comp.State())
}

func (s *LifecycleSuite) TestSameStateIsNoop() {
	s.NoError(s.comp.SetState(s.ctx(), StateUnloaded))
	s.Empty(s.recorded())
}

func (s *LifecycleSuite) TestInvalidTargetRejected() {
	err := s.comp.SetState(s.ctx(), StateInvalid)
	s.ErrorIs(err, errors.ErrInvalidTransition)
	s.Equal(StateUnloaded, s.comp.State())

	err = s.comp.SetState(s.ctx(), State(42))
	s.ErrorIs(err, errors.ErrInvalidTransition)
}

func (s *LifecycleSuite) TestInvalidate() {
	s.Require().NoError(s.comp.SetState(s.ctx(), StateExecuting))

	cause := stderrors.New("device unplugged")
	s.comp.Invalidate(cause)
	s.Equal(StateInvalid, s.comp.State())
	s.ErrorIs(s.comp.Err(), cause)

	s.comp.Invalidate(stderrors.New("second cause"))
	s.ErrorIs(s.comp.Err(), cause, "first cause wins")

	for _, target := range []State{StateUnloaded, StateIdle, StateExecuting} {
		s.ErrorIs(s.comp.SetState(s.ctx(), target), errors.ErrInvalidTransition)
	}
}

func (s *LifecycleSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.comp.SetState(ctx, StateExecuting)
	s.Error(err)
	s.ErrorIs(err, context.Canceled)
	s.Equal(StateUnloaded, s.comp.State())
}

func (s *LifecycleSuite) TestConcurrentRequests() {
	ctx := s.ctx()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < cap(errs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.comp.SetState(ctx, StateExecuting)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			s.ErrorIs(err, errors.ErrTransitionInFlight)
			s.ErrorIs(err, errors.ErrResourceConflict)
		}
	}
	s.Equal(StateExecuting, s.comp.State())
}

func (s *LifecycleSuite) TestNoLeaks() {
	opts := goleak.IgnoreCurrent()
	ctx := s.ctx()
	s.Require().NoError(s.comp.SetState(ctx, StateExecuting))
	s.Require().NoError(s.comp.SetState(ctx, StateUnloaded))
	goleak.VerifyNone(s.T(), opts)
}
