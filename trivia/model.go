package trivia

import (
	"slices"
	"time"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

// Phase is the sub-state of an in_progress lobby.
type Phase string

const (
	PhaseNone           Phase = ""
	PhaseQuestionActive Phase = "question_active"
	PhaseQuestionEnded  Phase = "question_ended"
	PhaseDuel           Phase = "duel_phase"
)

// Settings are chosen by the host while waiting, and frozen once the game starts.
type Settings struct {
	TimeLimit     time.Duration `json:"-"`
	AllowReplay   bool          `json:"allowReplay"`
	RequireReady  bool          `json:"requireReady"`
	DuelMode      bool          `json:"duelMode"`
	MaxPlayers    int           `json:"maxPlayers"`
	DuelMaxLosses int           `json:"duelMaxLosses"`
	DuelMaxRounds int           `json:"duelMaxRounds"`
	RevealDelay   time.Duration `json:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		TimeLimit:     30 * time.Second,
		AllowReplay:   true,
		RequireReady:  true,
		DuelMode:      true,
		MaxPlayers:    12,
		DuelMaxLosses: 2,
		DuelMaxRounds: 20,
		RevealDelay:   5 * time.Second,
	}
}

// Upper bounds on host-chosen durations.
const (
	MaxTimeLimit   = 10 * time.Minute
	MaxRevealDelay = time.Hour
)

func (s Settings) validate() bool {
	return s.TimeLimit > 0 && s.TimeLimit <= MaxTimeLimit &&
		s.MaxPlayers >= 0 &&
		s.DuelMaxLosses >= 0 &&
		s.DuelMaxRounds >= 0 &&
		s.RevealDelay >= 0 && s.RevealDelay <= MaxRevealDelay
}

type Player struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Character      string    `json:"character"`
	IsReady        bool      `json:"isReady"`
	IsHost         bool      `json:"isHost"`
	Score          int       `json:"score"`
	Multiplier     float64   `json:"multiplier"`
	CorrectAnswers int       `json:"correctAnswers"`
	CurrentStreak  int       `json:"currentStreak"`
	IsConnected    bool      `json:"isConnected"`
	JoinedAt       time.Time `json:"joinedAt"`
}

func (p *Player) apply(ev ScoreEvent) {
	p.Score += ev.AwardedPoints
	p.CurrentStreak = ev.NewStreak
	p.Multiplier = ev.NewMultiplier
	if ev.Correct {
		p.CorrectAnswers++
	}
}

func (p *Player) reset() {
	p.IsReady = false
	p.Score = 0
	p.Multiplier = 1
	p.CorrectAnswers = 0
	p.CurrentStreak = 0
}

type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Correct    []int    `json:"correct"`
	Difficulty int      `json:"difficulty"`
}

func (q Question) isCorrect(answer int) bool {
	return slices.Contains(q.Correct, answer)
}

// Public strips the correct answers so the question can be sent to players.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Options:    slices.Clone(q.Options),
		Difficulty: q.Difficulty,
	}
}

type PublicQuestion struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Difficulty int      `json:"difficulty"`
}

// Snapshot is a read-only copy of a lobby, safe to hand outside the actor.
type Snapshot struct {
	ID                   string     `json:"id"`
	Code                 string     `json:"code"`
	HostID               string     `json:"hostId"`
	Status               Status     `json:"status"`
	Phase                Phase      `json:"phase,omitempty"`
	Players              []Player   `json:"players"`
	QuestionSetIDs       []string   `json:"questionSetIds"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	TotalQuestions       int        `json:"totalQuestions"`
	Settings             Settings   `json:"settings"`
	TimeLimitSeconds     int        `json:"timeLimitSeconds"`
	Locked               bool       `json:"locked"`
	SessionID            string     `json:"sessionId,omitempty"`
	Duel                 *DuelState `json:"duel,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	LastActivityAt       time.Time  `json:"lastActivityAt"`
}

func (s Snapshot) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Standing is one row of the final leaderboard.
type Standing struct {
	Rank           int    `json:"rank"`
	PlayerID       string `json:"playerId"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	DuelWins       int    `json:"duelWins"`
}

// PlayerResult is one player's outcome for a question.
type PlayerResult struct {
	PlayerID      string `json:"playerId"`
	Answered      bool   `json:"answered"`
	Answer        int    `json:"answer"`
	Correct       bool   `json:"correct"`
	ElapsedMs     int64  `json:"elapsedMs"`
	AwardedPoints int    `json:"awardedPoints"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
	WasFastest    bool   `json:"wasFastest"`
}
