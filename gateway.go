// Quizbox Channel Gateway
//
// Translates websocket frames into lobby intents, and lobby events back into
// frames for every subscriber of that lobby.
//
// Features:
// - One websocket per browser tab at /ws; players identified by cookie (playerID)
// - First frame is create-lobby or join; every later intent targets the lobby the player is in
// - Rejected intents are answered with an error frame sent only to the offending client
// - Reconnecting with the same cookie and code resumes the player's seat
// - Lobby join links are shared as QR codes, backed by go-qrcode

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Seednode/quizbox/trivia"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	playerCookieName = "quizbox_id"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Messages coming from clients
type ClientMessage struct {
	Type           string           `json:"type"`
	LobbyCode      string           `json:"lobbyCode,omitempty"`      // join
	Player         *PlayerMessage   `json:"player,omitempty"`         // create-lobby / join
	QuestionSetIDs []string         `json:"questionSetIds,omitempty"` // create-lobby
	Settings       *SettingsMessage `json:"settings,omitempty"`       // create-lobby / update-settings
	IsReady        *bool            `json:"isReady,omitempty"`        // set-ready
	AnswerIndex    *int             `json:"answerIndex,omitempty"`    // submit-answer
	Lock           *bool            `json:"lock,omitempty"`           // lock-lobby
	TargetPlayerID string           `json:"targetPlayerId,omitempty"` // kick
}

type PlayerMessage struct {
	Username  string `json:"username"`
	Character string `json:"character"`
}

// SettingsMessage carries only the fields the host wants to change.
type SettingsMessage struct {
	TimeLimitSeconds   *int  `json:"timeLimitSeconds,omitempty"`
	RevealDelaySeconds *int  `json:"revealDelaySeconds,omitempty"`
	AllowReplay        *bool `json:"allowReplay,omitempty"`
	RequireReady       *bool `json:"requireReady,omitempty"`
	DuelMode           *bool `json:"duelMode,omitempty"`
	MaxPlayers         *int  `json:"maxPlayers,omitempty"`
	DuelMaxLosses      *int  `json:"duelMaxLosses,omitempty"`
	DuelMaxRounds      *int  `json:"duelMaxRounds,omitempty"`
}

func (m *SettingsMessage) apply(s trivia.Settings) trivia.Settings {
	if m == nil {
		return s
	}
	if m.TimeLimitSeconds != nil {
		s.TimeLimit = seconds(*m.TimeLimitSeconds, trivia.MaxTimeLimit)
	}
	if m.RevealDelaySeconds != nil {
		s.RevealDelay = seconds(*m.RevealDelaySeconds, trivia.MaxRevealDelay)
	}
	if m.AllowReplay != nil {
		s.AllowReplay = *m.AllowReplay
	}
	if m.RequireReady != nil {
		s.RequireReady = *m.RequireReady
	}
	if m.DuelMode != nil {
		s.DuelMode = *m.DuelMode
	}
	if m.MaxPlayers != nil {
		s.MaxPlayers = *m.MaxPlayers
	}
	if m.DuelMaxLosses != nil {
		s.DuelMaxLosses = *m.DuelMaxLosses
	}
	if m.DuelMaxRounds != nil {
		s.DuelMaxRounds = *m.DuelMaxRounds
	}
	return s
}

// seconds converts a client-supplied count without letting the multiply
// wrap. Anything out of range comes back just past the bound, for the lobby
// to reject.
func seconds(n int, limit time.Duration) time.Duration {
	switch {
	case n < 0:
		return -time.Second
	case n > int(limit/time.Second):
		return limit + time.Second
	}
	return time.Duration(n) * time.Second
}

// Messages sent to clients
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ErrorMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// clientIntent is a decoded client frame. The set is closed; handle switches
// over every member.
type clientIntent interface {
	clientIntent()
}

type (
	createLobby struct {
		player   PlayerMessage
		setIDs   []string
		settings *SettingsMessage
	}
	joinLobby struct {
		code   string
		player PlayerMessage
	}
	setReady struct {
		ready bool
	}
	startGame    struct{}
	submitAnswer struct {
		answer int
	}
	nextQuestion   struct{}
	endGame        struct{}
	playAgain      struct{}
	updateSettings struct {
		settings *SettingsMessage
	}
	lockLobby struct {
		locked bool
	}
	kickPlayer struct {
		target string
	}
	leaveLobby struct{}
)

func (createLobby) clientIntent()    {}
func (joinLobby) clientIntent()      {}
func (setReady) clientIntent()       {}
func (startGame) clientIntent()      {}
func (submitAnswer) clientIntent()   {}
func (nextQuestion) clientIntent()   {}
func (endGame) clientIntent()        {}
func (playAgain) clientIntent()      {}
func (updateSettings) clientIntent() {}
func (lockLobby) clientIntent()      {}
func (kickPlayer) clientIntent()     {}
func (leaveLobby) clientIntent()     {}

var errMalformed = errors.New("malformed message")

func decodeIntent(msg ClientMessage) (clientIntent, error) {
	switch msg.Type {
	case "create-lobby":
		if msg.Player == nil {
			return nil, fmt.Errorf("%w: create-lobby needs a player", errMalformed)
		}
		return createLobby{player: *msg.Player, setIDs: msg.QuestionSetIDs, settings: msg.Settings}, nil
	case "join":
		if msg.Player == nil || msg.LobbyCode == "" {
			return nil, fmt.Errorf("%w: join needs a lobbyCode and a player", errMalformed)
		}
		return joinLobby{code: msg.LobbyCode, player: *msg.Player}, nil
	case "set-ready":
		if msg.IsReady == nil {
			return nil, fmt.Errorf("%w: set-ready needs isReady", errMalformed)
		}
		return setReady{ready: *msg.IsReady}, nil
	case "start-game":
		return startGame{}, nil
	case "submit-answer":
		if msg.AnswerIndex == nil {
			return nil, fmt.Errorf("%w: submit-answer needs answerIndex", errMalformed)
		}
		return submitAnswer{answer: *msg.AnswerIndex}, nil
	case "next-question":
		return nextQuestion{}, nil
	case "end-game":
		return endGame{}, nil
	case "play-again":
		return playAgain{}, nil
	case "update-settings":
		if msg.Settings == nil {
			return nil, fmt.Errorf("%w: update-settings needs settings", errMalformed)
		}
		return updateSettings{settings: msg.Settings}, nil
	case "lock-lobby":
		return lockLobby{locked: msg.Lock != nil && *msg.Lock}, nil
	case "kick":
		if msg.TargetPlayerID == "" {
			return nil, fmt.Errorf("%w: kick needs targetPlayerId", errMalformed)
		}
		return kickPlayer{target: msg.TargetPlayerID}, nil
	case "leave":
		return leaveLobby{}, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", errMalformed, msg.Type)
}

// encodeEvent maps a lobby event onto its wire name.
func encodeEvent(ev trivia.Event) ServerMessage {
	var name string

	switch ev.(type) {
	case trivia.LobbyCreated:
		name = "lobby-created"
	case trivia.JoinSuccess:
		name = "join-success"
	case trivia.LobbyUpdated:
		name = "lobby-updated"
	case trivia.GameStarted:
		name = "game-started"
	case trivia.QuestionStarted:
		name = "question-started"
	case trivia.AnswerReceived:
		name = "answer-received"
	case trivia.FastestFinger:
		name = "fastest-finger"
	case trivia.TimeUpdate:
		name = "time-update"
	case trivia.QuestionEnded:
		name = "question-ended"
	case trivia.DuelPaired:
		name = "duel-paired"
	case trivia.DuelResult:
		name = "duel-result"
	case trivia.GameEnded:
		name = "game-ended"
	case trivia.Kicked:
		name = "kicked"
	default:
		panic(fmt.Sprintf("unhandled event %T", ev))
	}

	return ServerMessage{Type: name, Data: ev}
}

func errorFrame(in clientIntent, err error) ServerMessage {
	kind := trivia.Kind(err)
	if errors.Is(err, errMalformed) {
		kind = "malformed"
	}

	name := "error"
	switch in.(type) {
	case createLobby, joinLobby:
		name = "join-error"
	}

	return ServerMessage{Type: name, Data: ErrorMessage{Kind: kind, Message: err.Error()}}
}

type Client struct {
	conn     *websocket.Conn
	playerID string

	// events is the lobby subscription; the gateway owns and closes it.
	events chan trivia.Event
	// replies carries frames addressed only to this client.
	replies chan ServerMessage
}

func (c *Client) reply(msg ServerMessage) {
	select {
	case c.replies <- msg:
	default:
	}
}

type Gateway struct {
	cfg      *Config
	logger   *slog.Logger
	registry *trivia.Registry
}

func (g *Gateway) handle(ctx context.Context, c *Client, in clientIntent) error {
	player := func(m PlayerMessage) trivia.Player {
		return trivia.Player{ID: c.playerID, Username: m.Username, Character: m.Character}
	}

	switch in := in.(type) {
	case createLobby:
		lobby, err := g.registry.Create(ctx, player(in.player), in.settings.apply(g.cfg.settings()), in.setIDs, c.events)
		if err != nil {
			return err
		}
		g.logger.Info("GAMES: Created lobby", "lobby", lobby.Code(), "host", c.playerID)
		return nil

	case joinLobby:
		_, err := g.registry.Join(ctx, in.code, player(in.player), c.events)
		return err

	case leaveLobby:
		return g.registry.Leave(ctx, c.playerID)

	case kickPlayer:
		return g.registry.Kick(ctx, c.playerID, in.target)
	}

	lobby, err := g.registry.LobbyOf(c.playerID)
	if err != nil {
		return err
	}

	switch in := in.(type) {
	case setReady:
		return lobby.SetReady(ctx, c.playerID, in.ready)
	case startGame:
		return lobby.Start(ctx, c.playerID)
	case submitAnswer:
		return lobby.SubmitAnswer(ctx, c.playerID, in.answer)
	case nextQuestion:
		return lobby.NextQuestion(ctx, c.playerID)
	case endGame:
		return lobby.End(ctx, c.playerID)
	case playAgain:
		return lobby.PlayAgain(ctx, c.playerID)
	case updateSettings:
		snap, err := lobby.Snapshot(ctx)
		if err != nil {
			return err
		}
		return lobby.UpdateSettings(ctx, c.playerID, in.settings.apply(snap.Settings))
	case lockLobby:
		return lobby.Lock(ctx, c.playerID, in.locked)
	}

	return fmt.Errorf("%w: %T", errMalformed, in)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func (g *Gateway) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)

		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			g.logger.Warn("SERVE: Websocket upgrade failed", "client", realIP(r), "error", err)
			return
		}

		client := &Client{
			conn:     conn,
			playerID: playerID,
			events:   make(chan trivia.Event, sendBuffer),
			replies:  make(chan ServerMessage, sendBuffer),
		}

		g.logger.Debug("SERVE: Websocket connected", "player", playerID, "client", realIP(r))

		go client.writePump(g.logger)
		g.readPump(client)
	}
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		// The lobby must let go of c.events before it is closed.
		if err := g.registry.Disconnect(context.Background(), c.playerID, c.events); err != nil && !errors.Is(err, trivia.ErrNotFound) {
			g.logger.Warn("SERVE: Disconnect failed", "player", c.playerID, "error", err)
		}
		close(c.events)
		_ = c.conn.Close()

		g.logger.Debug("SERVE: Websocket closed", "player", c.playerID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		in, err := decodeIntent(msg)
		if err != nil {
			c.reply(ServerMessage{Type: "error", Data: ErrorMessage{Kind: "malformed", Message: err.Error()}})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = g.handle(ctx, c, in)
		cancel()

		if err != nil {
			g.logger.Debug("GAMES: Rejected intent", "player", c.playerID, "type", msg.Type, "error", err)
			c.reply(errorFrame(in, err))
		}
	}
}

func (c *Client) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(msg ServerMessage) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			logger.Debug("SERVE: Websocket write failed", "player", c.playerID, "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if !write(encodeEvent(ev)) {
				return
			}
		case msg := <-c.replies:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveLobby reports whether a code is joinable, without revealing players.
func (g *Gateway) serveLobby(errs chan<- error) httprouter.Handle {
	type lobbyInfo struct {
		Code    string        `json:"code"`
		Status  trivia.Status `json:"status"`
		Players int           `json:"players"`
		Locked  bool          `json:"locked"`
	}

	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		lobby, err := g.registry.FindByCode(ps.ByName("code"))
		if err != nil {
			_, _ = writeJSON(g.cfg, w, http.StatusNotFound, ErrorMessage{Kind: trivia.Kind(err), Message: err.Error()})
			return
		}

		snap, err := lobby.Snapshot(r.Context())
		if err != nil {
			_, _ = writeJSON(g.cfg, w, http.StatusNotFound, ErrorMessage{Kind: trivia.Kind(err), Message: err.Error()})
			return
		}

		_, err = writeJSON(g.cfg, w, http.StatusOK, lobbyInfo{
			Code:    snap.Code,
			Status:  snap.Status,
			Players: len(snap.Players),
			Locked:  snap.Locked,
		})
		if err != nil {
			errs <- err
		}
	}
}

// registerTriviaGame sets up routes so that:
//   - /ws               → WebSocket for creating, joining and playing lobbies
//   - /lobby/:code      → JSON summary of a lobby
//   - /lobby/:code/qr   → PNG QR code for that lobby's join link
func registerTriviaGame(cfg *Config, logger *slog.Logger, registry *trivia.Registry, mux *httprouter.Router, errs chan<- error) {
	g := &Gateway{cfg: cfg, logger: logger, registry: registry}

	mux.GET(cfg.prefix+"/ws", g.serveWS())

	mux.GET(cfg.prefix+"/lobby/:code", g.serveLobby(errs))

	mux.GET(cfg.prefix+"/lobby/:code/qr", serveQR(cfg, logger, registry))
}
