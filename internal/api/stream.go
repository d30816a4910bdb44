package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/middleware"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

// Stream message types.
const (
	StreamResult  = "result"
	StreamSummary = "summary"
	StreamError   = "error"
)

const (
	streamWriteWait   = 10 * time.Second
	streamMaxMessage  = 1 << 20
	streamIdleTimeout = 5 * time.Minute
)

// StreamMessage is one message written on the evaluation stream. Every request produces one
// result message per rule followed by a summary, or a single error message.
type StreamMessage struct {
	Type        string             `json:"type"`
	Sequence    int                `json:"sequence"`
	RunID       string             `json:"run_id,omitempty"`
	PatientID   string             `json:"patient_id,omitempty"`
	RuleID      domain.RuleID      `json:"rule_id,omitempty"`
	Evaluation  *domain.Evaluation `json:"evaluation,omitempty"`
	Error       *domain.APIError   `json:"error,omitempty"`
	EvaluatedAt *time.Time         `json:"evaluated_at,omitempty"`
}

// handleStream upgrades to a websocket and evaluates one JSON EvaluateRequest per incoming
// message until the client disconnects.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	correlationID := c.GetString(middleware.CorrelationIDKey)
	log := s.logger.WithField("correlation_id", correlationID)
	log.Info("Evaluation stream opened")

	conn.SetReadLimit(streamMaxMessage)
	ctx := c.Request.Context()
	sequence := 0

	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Evaluation stream closed unexpectedly")
			}
			break
		}
		sequence++
		if messageType != websocket.TextMessage {
			s.writeStream(conn, streamFailure(sequence, correlationID,
				domain.NewValidationError("message", "only text messages are accepted", nil)))
			continue
		}

		var req service.EvaluateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeStream(conn, streamFailure(sequence, correlationID,
				domain.NewValidationError("message", "invalid JSON request: "+err.Error(), nil)))
			continue
		}

		resp, err := s.service.Evaluate(ctx, req)
		if err != nil {
			if !s.writeStream(conn, streamFailure(sequence, correlationID, err)) {
				break
			}
			continue
		}
		if !s.writeResponse(conn, sequence, resp) {
			break
		}
	}

	log.WithField("requests", sequence).Info("Evaluation stream closed")
}

func (s *Server) writeResponse(conn *websocket.Conn, sequence int, resp *service.EvaluateResponse) bool {
	at := resp.EvaluatedAt
	for i := range resp.Results {
		outcome := resp.Results[i]
		ok := s.writeStream(conn, StreamMessage{
			Type:        StreamResult,
			Sequence:    sequence,
			RunID:       resp.RunID,
			PatientID:   resp.PatientID,
			RuleID:      outcome.RuleID,
			Evaluation:  &outcome.Evaluation,
			EvaluatedAt: &at,
		})
		if !ok {
			return false
		}
	}
	return s.writeStream(conn, StreamMessage{
		Type:        StreamSummary,
		Sequence:    sequence,
		RunID:       resp.RunID,
		PatientID:   resp.PatientID,
		Evaluation:  &resp.Overall,
		EvaluatedAt: &at,
	})
}

func (s *Server) writeStream(conn *websocket.Conn, msg StreamMessage) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.WithFields(logrus.Fields{
			"sequence": msg.Sequence,
			"error":    err.Error(),
		}).Warn("Failed to write to evaluation stream")
		return false
	}
	return true
}

func streamFailure(sequence int, correlationID string, err error) StreamMessage {
	return StreamMessage{
		Type:     StreamError,
		Sequence: sequence,
		Error:    domain.NewAPIError(domain.ErrorCode(err), http.StatusText(statusFor(err)), err.Error(), correlationID),
	}
}
