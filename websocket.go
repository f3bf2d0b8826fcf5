package voicechat

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type webConn struct {
	conn     *websocket.Conn
	sess     *Session
	registry *Registry
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := ulid.Make().String()
	sess := s.registry.Connect(connectionID)

	wc := &webConn{
		conn:     conn,
		sess:     sess,
		registry: s.registry,
		log:      sess.log,
	}

	wc.Start()
}

func (wc *webConn) Start() {
	defer wc.conn.Close()

	wc.sess.send(EventConnectionStatus, StatusConnected)

	wc.wg.Add(1)
	go func() {
		defer wc.wg.Done()
		wc.writer()
	}()

	wc.reader()

	// Registry removal runs the stop-recording cleanup and closes the
	// session's done channel, which stops the writer.
	wc.registry.Disconnect(wc.sess.ID())
	wc.wg.Wait()
}

// reader processes inbound frames for the connection in arrival order:
// binary frames are audio, text frames are commands.
func (wc *webConn) reader() {
	for {
		messageType, message, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				wc.log.Error().Err(err).Msg("websocket read error")
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			wc.registry.HandleAudioChunk(wc.sess, message)
			continue
		}

		var cmd ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			wc.log.Warn().Err(err).Msg("failed to unmarshal client command")
			continue
		}

		switch cmd.Type {
		case CmdStartRecording:
			wc.registry.StartRecording(wc.sess)
		case CmdStopRecording:
			wc.registry.StopRecording(wc.sess)
		case CmdClearConversation:
			wc.registry.ClearConversation(wc.sess.ID())
		default:
			wc.log.Warn().Str("type", cmd.Type).Msg("unknown client command")
		}
	}
}

// writer drains the session's outbound queue onto the connection.
func (wc *webConn) writer() {
	for {
		select {
		case data := <-wc.sess.out:
			if err := wc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				wc.log.Error().Err(err).Msg("websocket write error")
				return
			}
		case <-wc.sess.done:
			return
		}
	}
}
