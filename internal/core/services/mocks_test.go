package services

import (
	"context"
	"sync"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type MockConference struct {
	mock.Mock
}

func (m *MockConference) Participants(ctx context.Context) ([]domain.Participant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Participant), args.Error(1)
}

func (m *MockConference) ServerURL() string {
	return m.Called().String(0)
}

func (m *MockConference) ConferenceName() string {
	return m.Called().String(0)
}

// newConference returns a conference mock serving a fixed participant list.
func newConference(participants ...domain.Participant) *MockConference {
	conf := &MockConference{}
	conf.On("Participants", mock.Anything).Return(participants, nil)
	conf.On("ServerURL").Return("HTTP://Conf.Example.org/")
	conf.On("ConferenceName").Return("weekly")
	return conf
}

type MockTransport struct {
	mock.Mock

	mu      sync.Mutex
	handler ports.PacketHandler
}

func (m *MockTransport) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTransport) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTransport) OnPacket(handler ports.PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Deliver pushes a packet the way a transport read loop would.
func (m *MockTransport) Deliver(pkt domain.VideoPacket) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(pkt)
	}
}

type MockTransportFactory struct {
	mock.Mock
}

func (m *MockTransportFactory) NewTransport(params domain.ConnectionParams) (ports.MediaTransport, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.MediaTransport), args.Error(1)
}

type MockSessionMetrics struct {
	mock.Mock
}

func (m *MockSessionMetrics) SessionStateChanged(from, to domain.ConnectionState) {
	m.Called(from, to)
}

func (m *MockSessionMetrics) PacketReceived(participantID domain.ParticipantID, pkt domain.VideoPacket) {
	m.Called(participantID, pkt)
}

func (m *MockSessionMetrics) ConnectFailed(participantID domain.ParticipantID) {
	m.Called(participantID)
}
