package daemon

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const attachReadLimit = 32768

// attachMessage is one server->client frame on the attach socket.
// Output frames carry Line; the final frame carries Exited and Code.
type attachMessage struct {
	Line   string `json:"line,omitempty"`
	Exited bool   `json:"exited,omitempty"`
	Code   int    `json:"code,omitempty"`
}

// attachInput is a client->server frame carrying raw console input,
// terminator included.
type attachInput struct {
	Input string `json:"input"`
}

// attach offers a bidirectional raw console over a WebSocket: history
// and live output flow down, input lines flow up into the process's
// stdin. Unlike /server/console this channel accepts input, so an
// interactive terminal can sit directly on the process.
func (d *Daemon) attach(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		d.log.Debugf("attach accept error: %s", err)
		return
	}
	wsConn.SetReadLimit(attachReadLimit)
	log := d.log.Named("attach")

	ctx := r.Context()
	history, exited, ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	// input pump: client frames go straight to stdin; write failures
	// are expected when the process has no input channel open
	go func() {
		for {
			var in attachInput
			if err := wsjson.Read(ctx, wsConn, &in); err != nil {
				if websocket.CloseStatus(err) == -1 {
					log.Debugf("attach input read error: %s", err)
				}
				return
			}
			if in.Input == "" {
				continue
			}
			if err := d.runner.SendInput(in.Input); err != nil {
				log.Debugf("attach input rejected: %s", err)
			}
		}
	}()

	for _, line := range history {
		if err := wsjson.Write(ctx, wsConn, attachMessage{Line: line}); err != nil {
			return
		}
	}
	if exited != nil {
		_ = wsjson.Write(ctx, wsConn, attachMessage{Exited: true, Code: *exited})
		wsConn.Close(websocket.StatusNormalClosure, "")
		return
	}

	for {
		select {
		case <-ctx.Done():
			wsConn.Close(websocket.StatusGoingAway, "daemon closing")
			return
		case <-d.closed:
			wsConn.Close(websocket.StatusGoingAway, "daemon closing")
			return
		case ev := <-ch:
			switch ev.name {
			case "output":
				if err := wsjson.Write(ctx, wsConn, attachMessage{Line: ev.line}); err != nil {
					return
				}
			case "done":
				_ = wsjson.Write(ctx, wsConn, attachMessage{Exited: true, Code: ev.code})
				wsConn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}
