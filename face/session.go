package face

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// State of a session
type State int

const (
	Idle State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "closed"
	}
}

// Sender writes frames to the client. Implementations must be safe for concurrent use.
type Sender interface {
	SendEvent(event string, data interface{}) error
	SendBinary(data []byte) error
}

// Sink receives the output of a running detector
type Sink interface {
	Result(data []byte)
	Failure(message string)
}

// Detector is a running detection process
type Detector interface {
	Write(frame []byte) error
	Stop() error
}

// Spawner starts detectors
type Spawner interface {
	Spawn(sink Sink) (Detector, error)
}

// Session is the state of one client connection: Idle, Active with a running
// detector, or Closed. Leaving Active always stops the detector.
type Session struct {
	id      string
	lang    Language
	spawner Spawner
	out     Sender

	mu         sync.Mutex
	state      State
	detector   Detector
	generation int
}

func NewSession(id string, lang Language, spawner Spawner, out Sender) *Session {
	return &Session{
		id:      id,
		lang:    lang,
		spawner: spawner,
		out:     out,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle applies one client message to the session
func (s *Session) Handle(msg Message) {
	switch msg := msg.(type) {
	case RequestMessage:
		s.request(msg)
	case CloseMessage:
		s.transition(Idle)
	case DetectionMessage:
		s.detect(msg)
	default:
		s.sendError(ErrInvalidRequest)
	}
}

func (s *Session) request(req RequestMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return
	case Active:
		log.WithField("session", s.id).Info("Client sent multiple requests")
		s.sendError(ErrMultipleRequests)
		return
	}

	if req.Operation != OperationDetection {
		log.WithFields(log.Fields{
			"session":   s.id,
			"operation": req.Operation,
		}).Info("Client sent unsupported operation")
		s.sendError(ErrInvalidRequest)
		return
	}

	s.generation++
	detector, err := s.spawner.Spawn(&sessionSink{session: s, generation: s.generation})
	if err != nil {
		log.WithFields(log.Fields{
			"session": s.id,
			"error":   err,
		}).Error("Failed to start detector")
		s.sendPayload(ErrorPayload{Code: DetectorErrorCode, Message: err.Error()})
		return
	}

	s.detector = detector
	s.state = Active

	log.WithFields(log.Fields{
		"session": s.id,
		"width":   req.Width,
		"height":  req.Height,
	}).Info("Client is ready to detect faces")

	if err := s.out.SendEvent(EventSuccess, nil); err != nil {
		log.WithField("session", s.id).Warnf("Failed to send success event: %v", err)
	}
}

func (s *Session) detect(msg DetectionMessage) {
	s.mu.Lock()
	detector := s.detector
	s.mu.Unlock()

	if detector == nil {
		log.WithField("session", s.id).Info("Client sent detection data without a detection process")
		s.sendError(ErrInvalidRequest)
		return
	}
	if len(msg.Frame) == 0 {
		s.sendError(ErrTypeError)
		return
	}

	if err := detector.Write(msg.Frame); err != nil {
		log.WithFields(log.Fields{
			"session": s.id,
			"error":   err,
		}).Error("Failed to write frame to detector")
	}
}

// Close moves the session to Closed and releases the detector
func (s *Session) Close() {
	s.transition(Closed)
}

// transition leaves the current state for next. The detector is stopped
// outside the lock since its output goroutines take it too.
func (s *Session) transition(next State) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	detector := s.detector
	s.detector = nil
	s.generation++
	s.state = next
	s.mu.Unlock()

	if detector != nil {
		if err := detector.Stop(); err != nil {
			log.WithField("session", s.id).Warnf("Failed to stop detector: %v", err)
		}
	}
}

func (s *Session) sendError(e *Error) {
	s.sendPayload(e.Localize(s.lang))
}

func (s *Session) sendPayload(payload ErrorPayload) {
	if err := s.out.SendEvent(EventError, payload); err != nil {
		log.WithField("session", s.id).Warnf("Failed to send error event: %v", err)
	}
}

// sessionSink drops output of detectors that are no longer current
type sessionSink struct {
	session    *Session
	generation int
}

func (k *sessionSink) current() bool {
	k.session.mu.Lock()
	defer k.session.mu.Unlock()
	return k.session.state == Active && k.session.generation == k.generation
}

func (k *sessionSink) Result(data []byte) {
	if !k.current() {
		return
	}
	log.WithField("session", k.session.id).Debugf("Detection result: %v", data)
	if err := k.session.out.SendBinary(data); err != nil {
		log.WithField("session", k.session.id).Warnf("Failed to send detection result: %v", err)
	}
}

func (k *sessionSink) Failure(message string) {
	if !k.current() {
		return
	}
	log.WithField("session", k.session.id).Errorf("Detection error: %s", message)
	k.session.sendPayload(ErrorPayload{Code: DetectorErrorCode, Message: message})
}
