package websocket

import "github.com/gorilla/websocket"

// Reserved close codes. Each close reason has its own code so clients can tell "retry now"
// from "retry after something changes".
const (
	CloseNormal             = websocket.CloseNormalClosure // 1000
	CloseServerShutdown     = websocket.CloseGoingAway     // 1001
	CloseFrameTooLarge      = websocket.CloseMessageTooBig // 1009
	CloseSlowConsumer       = websocket.CloseTryAgainLater // 1013
	CloseIdleTimeout        = 4000
	CloseSuperseded         = 4001
	CloseUnauthorized       = 4003
	CloseBookingNotStarted  = 4009
	CloseSessionEnded       = 4010
	closeConnectionLost     = websocket.CloseAbnormalClosure // 1006, never written to the wire
	closeInternalServerFail = websocket.CloseInternalServerErr
)

// Close reasons, also used as the disconnected envelope reason and the metrics label.
const (
	ReasonClientClosed   = "client closed"
	ReasonServerShutdown = "server shutdown"
	ReasonFrameTooLarge  = "frame too large"
	ReasonSlowConsumer   = "send buffer full"
	ReasonIdleTimeout    = "idle timeout"
	ReasonSuperseded     = "superseded"
	ReasonUnauthorized   = "unauthorized"
	ReasonNotInProgress  = "booking not in progress"
	ReasonSessionEnded   = "session ended"
	ReasonConnectionLost = "connection lost"
	reasonNoHandler      = "unsupported channel"
)
