package trivia

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Options struct {
	Questions    QuestionRepository
	Policy       ScorePolicy
	Logger       *slog.Logger
	CodeLength   int
	CodeAttempts int
	TickInterval time.Duration

	// Now and NewCode are overridable for tests.
	Now     func() time.Time
	NewCode func() string
}

// Registry owns every active lobby, indexed by id and join code, plus a
// reverse index from player id to the lobby they are in. A join reserves its
// index entry before the lobby sees it; joining counts the joins in flight.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Lobby
	byCode  map[string]*Lobby
	players map[string]string
	joining map[string]int

	deps         lobbyDeps
	newCode      func() string
	codeAttempts int
}

func NewRegistry(opts Options) *Registry {
	if opts.Questions == nil {
		opts.Questions = NewMemoryQuestions()
	}
	if opts.Policy.BasePoints == 0 {
		opts.Policy = DefaultScorePolicy
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = 16
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewCode == nil {
		n := opts.CodeLength
		opts.NewCode = func() string { return RandomCode(n) }
	}

	return &Registry{
		byID:    make(map[string]*Lobby),
		byCode:  make(map[string]*Lobby),
		players: make(map[string]string),
		joining: make(map[string]int),
		deps: lobbyDeps{
			questions: opts.Questions,
			policy:    opts.Policy,
			logger:    opts.Logger,
			now:       opts.Now,
			tick:      opts.TickInterval,
		},
		newCode:      opts.NewCode,
		codeAttempts: opts.CodeAttempts,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create opens a new lobby with host as its only member. sub, if not nil,
// receives the host's events.
func (r *Registry) Create(ctx context.Context, host Player, settings Settings, setIDs []string, sub chan<- Event) (*Lobby, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if host.ID == "" || host.Username == "" {
		return nil, fmt.Errorf("%w: host needs an id and a username", ErrInvalidTransition)
	}
	if !settings.validate() {
		return nil, fmt.Errorf("%w: settings out of range", ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.players[host.ID]; ok {
		return nil, fmt.Errorf("%w: player %s is already in lobby %s", ErrInvalidTransition, host.ID, id)
	}

	var code string
	for range r.codeAttempts {
		candidate := normalizeCode(r.newCode())
		if _, taken := r.byCode[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, fmt.Errorf("%w: no free code after %d attempts", ErrCodeGenerationExhausted, r.codeAttempts)
	}

	l := newLobby(uuid.NewString(), code, host, settings, setIDs, sub, r.deps)

	r.byID[l.id] = l
	r.byCode[code] = l
	r.players[host.ID] = l.id

	r.deps.logger.Info("lobby created", "lobby", code, "id", l.id, "host", host.ID)

	return l, nil
}

func (r *Registry) FindByCode(code string) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.byCode[normalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: no lobby with code %q", ErrNotFound, code)
	}
	return l, nil
}

func (r *Registry) FindByID(id string) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: no lobby with id %s", ErrNotFound, id)
	}
	return l, nil
}

// LobbyOf resolves the lobby a player currently belongs to.
func (r *Registry) LobbyOf(playerID string) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.players[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: player %s is not in a lobby", ErrNotFound, playerID)
	}
	return r.byID[id], nil
}

// Join adds p to the lobby with the given code, or reconnects them if they
// are already a member.
func (r *Registry) Join(ctx context.Context, code string, p Player, sub chan<- Event) (Snapshot, error) {
	if p.ID == "" {
		return Snapshot{}, fmt.Errorf("%w: player id is required", ErrInvalidTransition)
	}

	l, err := r.FindByCode(code)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	if current, ok := r.players[p.ID]; ok && current != l.id {
		r.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: player %s is already in another lobby", ErrInvalidTransition, p.ID)
	}
	r.players[p.ID] = l.id
	r.joining[p.ID]++
	r.mu.Unlock()

	res, err := l.do(ctx, joinIntent{player: p, sub: sub})

	r.mu.Lock()
	defer r.mu.Unlock()

	r.joining[p.ID]--
	pending := r.joining[p.ID] > 0
	if !pending {
		delete(r.joining, p.ID)
	}

	_, registered := r.byID[l.id]
	switch {
	case registered && (err == nil || res.member || pending):
		// Another join for this player may still be in flight, so a failed
		// one only drops the entry when it is the last.
		r.players[p.ID] = l.id
	case r.players[p.ID] == l.id:
		delete(r.players, p.ID)
	}

	if err != nil {
		return Snapshot{}, err
	}
	return res.snap, nil
}

// Leave removes the player from their lobby, and drops the lobby once empty.
func (r *Registry) Leave(ctx context.Context, playerID string) error {
	l, err := r.LobbyOf(playerID)
	if err != nil {
		return err
	}

	res, err := l.do(ctx, leaveIntent{playerID: playerID})
	if err != nil {
		return err
	}

	r.forget(playerID, l.id)

	if res.remaining == 0 {
		return r.Remove(l.id)
	}
	return nil
}

// Kick is Leave on behalf of the host.
func (r *Registry) Kick(ctx context.Context, hostID, target string) error {
	l, err := r.LobbyOf(hostID)
	if err != nil {
		return err
	}

	if _, err := l.do(ctx, kickIntent{playerID: hostID, target: target}); err != nil {
		return err
	}

	r.forget(target, l.id)

	return nil
}

// Disconnect marks the player offline, as long as sub is still the
// subscription the lobby holds for them.
func (r *Registry) Disconnect(ctx context.Context, playerID string, sub chan<- Event) error {
	l, err := r.LobbyOf(playerID)
	if err != nil {
		return err
	}

	_, err = l.do(ctx, disconnectIntent{playerID: playerID, sub: sub})
	return err
}

func (r *Registry) forget(playerID, lobbyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.players[playerID] == lobbyID {
		delete(r.players, playerID)
	}
}

// Remove evicts a lobby, stops its actor and drops every subscription to it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	l, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: no lobby with id %s", ErrNotFound, id)
	}

	delete(r.byID, id)
	if r.byCode[l.code] == l {
		delete(r.byCode, l.code)
	}
	for pid, lid := range r.players {
		if lid == id {
			delete(r.players, pid)
		}
	}
	r.mu.Unlock()

	l.shutdown()
	<-l.stopped

	r.deps.logger.Info("lobby removed", "lobby", l.code, "id", id)

	return nil
}

// Lobbies returns the lobbies registered at the time of the call.
func (r *Registry) Lobbies() []*Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Lobby, 0, len(r.byID))
	for _, l := range r.byID {
		out = append(out, l)
	}
	return out
}

type Stats struct {
	Lobbies          int            `json:"lobbies"`
	LobbiesByStatus  map[Status]int `json:"lobbiesByStatus"`
	Players          int            `json:"players"`
	ConnectedPlayers int            `json:"connectedPlayers"`
}

// Stats aggregates counts across all lobbies for monitoring.
func (r *Registry) Stats(ctx context.Context) Stats {
	s := Stats{LobbiesByStatus: map[Status]int{
		StatusWaiting:    0,
		StatusInProgress: 0,
		StatusEnded:      0,
	}}

	for _, l := range r.Lobbies() {
		snap, err := l.Snapshot(ctx)
		if err != nil {
			continue
		}

		s.Lobbies++
		s.LobbiesByStatus[snap.Status]++
		s.Players += len(snap.Players)
		for _, p := range snap.Players {
			if p.IsConnected {
				s.ConnectedPlayers++
			}
		}
	}

	return s
}
