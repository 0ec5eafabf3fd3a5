package trivia

// Event is a state delta pushed from a lobby to its subscribers. The set of
// events is closed; consumers switch over the concrete types below.
type Event interface {
	event()
}

type LobbyCreated struct {
	Lobby Snapshot `json:"lobby"`
}

type JoinSuccess struct {
	PlayerID string   `json:"playerId"`
	Lobby    Snapshot `json:"lobby"`
}

type LobbyUpdated struct {
	Lobby Snapshot `json:"lobby"`
}

type GameStarted struct {
	SessionID      string   `json:"sessionId"`
	TotalQuestions int      `json:"totalQuestions"`
	Lobby          Snapshot `json:"lobby"`
}

type QuestionStarted struct {
	Question         PublicQuestion `json:"question"`
	Index            int            `json:"index"`
	Total            int            `json:"total"`
	TimeLimitSeconds int            `json:"timeLimit"`
	TimeRemainingMs  int64          `json:"timeRemainingMs"`
	Duel             bool           `json:"duel"`
	Pair             []string       `json:"pair,omitempty"`
}

// AnswerReceived acknowledges a submission without revealing correctness.
type AnswerReceived struct {
	PlayerID    string `json:"playerId"`
	HasAnswered bool   `json:"hasAnswered"`
	ElapsedMs   int64  `json:"elapsedMs"`
}

type FastestFinger struct {
	PlayerID string `json:"playerId"`
}

type TimeUpdate struct {
	TimeRemaining   int   `json:"timeRemaining"`
	TimeRemainingMs int64 `json:"timeRemainingMs"`
}

type QuestionEnded struct {
	Results []PlayerResult `json:"results"`
	Correct []int          `json:"correct"`
	Index   int            `json:"index"`
	Total   int            `json:"total"`
}

type DuelPaired struct {
	Round      int            `json:"round"`
	Pair       []string       `json:"pair"`
	Queue      []string       `json:"queue"`
	Spectators []string       `json:"spectators"`
	Wins       map[string]int `json:"wins"`
}

type DuelResult struct {
	DuelOutcome
	Round   int            `json:"round"`
	Correct []int          `json:"correct"`
	Pair    []string       `json:"pair"`
	Queue   []string       `json:"queue"`
	Wins    map[string]int `json:"wins"`
}

type GameEnded struct {
	SessionID string     `json:"sessionId"`
	Reason    string     `json:"reason"`
	Standings []Standing `json:"standings"`
}

// Kicked is sent only to the removed player.
type Kicked struct {
	Message string `json:"message"`
}

func (LobbyCreated) event()    {}
func (JoinSuccess) event()     {}
func (LobbyUpdated) event()    {}
func (GameStarted) event()     {}
func (QuestionStarted) event() {}
func (AnswerReceived) event()  {}
func (FastestFinger) event()   {}
func (TimeUpdate) event()      {}
func (QuestionEnded) event()   {}
func (DuelPaired) event()      {}
func (DuelResult) event()      {}
func (GameEnded) event()       {}
func (Kicked) event()          {}
