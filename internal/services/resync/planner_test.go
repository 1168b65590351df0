package resync

import (
	"testing"
	"time"

	resyncmocks "github.com/BearBump/DispatchBox/internal/services/resync/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestDefaultSteps() {
	p := DefaultPlanner()
	s.Equal(1*time.Second, p.Delay(1))
	s.Equal(2*time.Second, p.Delay(2))
	s.Equal(5*time.Second, p.Delay(3))
	s.Equal(10*time.Second, p.Delay(4))
	s.Equal(30*time.Second, p.Delay(5))
	s.Equal(30*time.Second, p.Delay(100))
}

func (s *PlannerSuite) TestNonPositiveAttemptIsFirst() {
	p := DefaultPlanner()
	s.Equal(1*time.Second, p.Delay(0))
	s.Equal(1*time.Second, p.Delay(-3))
}

func (s *PlannerSuite) TestCustomConfig() {
	p := NewPlanner(PlannerConfig{Steps: []time.Duration{100 * time.Millisecond}, Max: time.Second}, nil)
	s.Equal(100*time.Millisecond, p.Delay(1))
	s.Equal(time.Second, p.Delay(2))
}

func (s *PlannerSuite) TestJitterUsesRand() {
	m := &resyncmocks.Rand{}
	// 10% of 2s is 200ms.
	m.On("Intn", 201).Return(150).Once()

	p := NewPlanner(PlannerConfig{Jitter: 0.1}, m)
	s.Equal(2*time.Second+150*time.Millisecond, p.Delay(2))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNoJitterNeverCallsRand() {
	m := &resyncmocks.Rand{}
	p := NewPlanner(DefaultPlannerConfig(), m)
	s.Equal(5*time.Second, p.Delay(3))
	m.AssertNotCalled(s.T(), "Intn")
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
