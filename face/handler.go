package face

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	localLanguage   = "face.language"
	localAPIVersion = "face.apiVersion"
	localClientIP   = "face.clientIP"

	writeTimeout = 5 * time.Second
)

// Bridge serves the face detection protocol over websocket
type Bridge struct {
	spawner Spawner
}

func NewBridge(spawner Spawner) *Bridge {
	return &Bridge{spawner: spawner}
}

// Upgrade rejects plain HTTP requests and captures the headers the session
// needs before the connection is hijacked
func (b *Bridge) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	ip := c.Get("cf-connecting-ip")
	if ip == "" {
		ip = c.IP()
	}
	c.Locals(localLanguage, PickLanguage(c.Get(fiber.HeaderAcceptLanguage)))
	c.Locals(localAPIVersion, c.Get(HeaderAPIVersion))
	c.Locals(localClientIP, ip)
	return c.Next()
}

// Handler returns the websocket endpoint. Mount it behind Upgrade.
func (b *Bridge) Handler() fiber.Handler {
	return websocket.New(b.serve)
}

func (b *Bridge) serve(conn *websocket.Conn) {
	id := uuid.NewString()
	lang, _ := conn.Locals(localLanguage).(Language)
	if lang == "" {
		lang = ZH
	}
	version, _ := conn.Locals(localAPIVersion).(string)
	out := &connSender{conn: conn}

	logger := log.WithFields(log.Fields{
		"session":  id,
		"ip":       conn.Locals(localClientIP),
		"remote":   conn.RemoteAddr().String(),
		"language": lang,
	})
	logger.Info("Client connected to face server")

	if version != Version {
		logger.WithField("version", version).Info("Client requested an unsupported API version")
		if err := out.SendEvent(EventError, ErrAPIVersionMismatch.Localize(lang)); err != nil {
			logger.Warnf("Failed to send error event: %v", err)
		}
		out.close(websocket.ClosePolicyViolation, "api version mismatch")
		return
	}

	session := NewSession(id, lang, b.spawner, out)
	defer func() {
		session.Close()
		logger.Info("Client disconnected from face server")
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warnf("Face connection closed unexpectedly: %v", err)
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			msg, perr := DecodeText(data)
			if perr != nil {
				logger.WithField("code", perr.Code).Info("Client sent an invalid message")
				session.sendError(perr)
				continue
			}
			session.Handle(msg)
		case websocket.BinaryMessage:
			session.Handle(DetectionMessage{Frame: data})
		}
	}
}

// connSender serializes writes on a websocket connection
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) SendEvent(event string, data interface{}) error {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, frame)
}

func (s *connSender) SendBinary(data []byte) error {
	return s.write(websocket.BinaryMessage, data)
}

func (s *connSender) write(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(kind, data)
}

func (s *connSender) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}
