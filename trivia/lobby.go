package trivia

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type answerRecord struct {
	answer int
	event  ScoreEvent
}

// Lobby is one game session. All fields below the id/code pair are owned by
// the run goroutine; everything else talks to it through requests.
type Lobby struct {
	id        string
	code      string
	createdAt time.Time

	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
	quitOnce sync.Once

	questionRepo QuestionRepository
	policy       ScorePolicy
	logger       *slog.Logger
	now          func() time.Time
	tick         time.Duration

	hostID       string
	status       Status
	phase        Phase
	players      []*Player
	subs         map[string]chan<- Event
	setIDs       []string
	settings     Settings
	locked       bool
	sessionID    string
	lastActivity time.Time

	questions      []Question
	index          int
	clock          sessionClock
	questionStart  time.Time
	answers        map[string]answerRecord
	fastestAwarded bool

	duel          *DuelState
	duelAnswers   map[string]duelAnswer
	duelQuestion  int
	duelRoundOpen bool

	// dropped holds subscribers that fell behind during fan-out; settle
	// disconnects them once the current intent is done.
	dropped []string
	// proceedDue is set by a zero-length reveal pause.
	proceedDue bool
}

type lobbyDeps struct {
	questions QuestionRepository
	policy    ScorePolicy
	logger    *slog.Logger
	now       func() time.Time
	tick      time.Duration
}

func newLobby(id, code string, host Player, settings Settings, setIDs []string, sub chan<- Event, deps lobbyDeps) *Lobby {
	now := deps.now()

	host.IsHost = true
	host.IsConnected = true
	host.JoinedAt = now
	host.reset()

	l := &Lobby{
		id:           id,
		code:         code,
		createdAt:    now,
		requests:     make(chan request),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		questionRepo: deps.questions,
		policy:       deps.policy,
		logger:       deps.logger.With("lobby", code),
		now:          deps.now,
		tick:         deps.tick,
		hostID:       host.ID,
		status:       StatusWaiting,
		players:      []*Player{&host},
		subs:         make(map[string]chan<- Event),
		setIDs:       slices.Clone(setIDs),
		settings:     settings,
		lastActivity: now,
		index:        -1,
	}
	if sub != nil {
		l.subs[host.ID] = sub
	}

	l.send(host.ID, LobbyCreated{Lobby: l.snapshot()})

	go l.run()

	return l
}

func (l *Lobby) ID() string   { return l.id }
func (l *Lobby) Code() string { return l.code }

func (l *Lobby) run() {
	defer close(l.stopped)
	defer l.clock.disarm()

	for {
		select {
		case <-l.quit:
			return
		case req := <-l.requests:
			select {
			case <-l.quit:
				if req.reply != nil {
					req.reply <- result{err: fmt.Errorf("%w: lobby %s is closed", ErrNotFound, l.code)}
				}
				return
			default:
			}

			res := l.dispatch(req)
			l.settle()
			res.snap = l.snapshot()
			if req.reply != nil {
				req.reply <- res
			}
		}
	}
}

// shutdown stops the actor. It is safe to call from inside a handler.
func (l *Lobby) shutdown() {
	l.quitOnce.Do(func() {
		close(l.quit)
	})
}

// do submits an intent and waits for its result. Once do returns ErrNotFound
// for a stopped lobby, the actor will never send to a subscriber again.
func (l *Lobby) do(ctx context.Context, in intent) (result, error) {
	req := request{ctx: ctx, in: in, reply: make(chan result, 1)}

	select {
	case l.requests <- req:
	case <-l.quit:
		<-l.stopped
		return result{}, fmt.Errorf("%w: lobby %s is closed", ErrNotFound, l.code)
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	res := <-req.reply
	return res, res.err
}

// post delivers a clock intent, giving up if the countdown is cancelled or
// the lobby stops first.
func (l *Lobby) post(in intent, stop <-chan struct{}) {
	select {
	case l.requests <- request{ctx: context.Background(), in: in}:
	case <-stop:
	case <-l.quit:
	}
}

func (l *Lobby) dispatch(req request) (res result) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("intent panicked", "intent", fmt.Sprintf("%T", req.in), "panic", r, "stack", string(debug.Stack()))
			res = result{err: fmt.Errorf("lobby %s: internal error", l.code)}
		}
	}()

	var err error

	switch in := req.in.(type) {
	case joinIntent:
		err = l.join(in.player, in.sub)
		res.member = l.player(in.player.ID) != nil
	case leaveIntent:
		err = l.leave(in.playerID)
		res.remaining = len(l.players)
	case kickIntent:
		err = l.kick(in.playerID, in.target)
		res.remaining = len(l.players)
	case disconnectIntent:
		err = l.disconnect(in.playerID, in.sub)
	case readyIntent:
		err = l.setReady(in.playerID, in.ready)
	case startIntent:
		err = l.start(req.ctx, in.playerID)
	case answerIntent:
		err = l.submit(in.playerID, in.answer)
	case nextIntent:
		err = l.next(in.playerID)
	case endIntent:
		err = l.abort(in.playerID)
	case replayIntent:
		err = l.replay(in.playerID)
	case settingsIntent:
		err = l.updateSettings(in.playerID, in.settings)
	case lockIntent:
		err = l.lock(in.playerID, in.locked)
	case snapshotIntent:
	case sweepIntent:
		res.evict = l.expired(in.now, in.waitingTTL, in.endedTTL)
		if res.evict {
			l.shutdown()
		}
	case clockTick:
		l.onTick(in.gen)
	case clockExpired:
		l.onExpired(in.gen, in.kind)
	default:
		err = fmt.Errorf("%w: unknown intent %T", ErrInvalidTransition, in)
	}

	res.err = err

	return res
}

// settle applies transitions that follow from the state itself rather than
// from any one intent. It loops until nothing is left to do, so rounds that
// resolve on their own never recurse.
func (l *Lobby) settle() {
	for {
		switch {
		case len(l.dropped) > 0:
			id := l.dropped[0]
			l.dropped = l.dropped[1:]
			if p := l.player(id); p != nil {
				l.markDisconnected(p)
			}
		case l.status == StatusInProgress && l.connectedCount() == 0:
			l.end("all players disconnected")
		case l.proceedDue:
			l.proceedDue = false
			l.proceed()
		default:
			return
		}
	}
}

func (l *Lobby) touch() {
	l.lastActivity = l.now()
}

func (l *Lobby) invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidTransition}, args...)...)
}

func (l *Lobby) requireHost(playerID, action string) error {
	if playerID != l.hostID {
		return fmt.Errorf("%w: only the host may %s", ErrUnauthorized, action)
	}
	return nil
}

func (l *Lobby) player(id string) *Player {
	for _, p := range l.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (l *Lobby) connected() []Player {
	out := make([]Player, 0, len(l.players))
	for _, p := range l.players {
		if p.IsConnected {
			out = append(out, *p)
		}
	}
	return out
}

func (l *Lobby) connectedCount() int {
	n := 0
	for _, p := range l.players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

func (l *Lobby) join(p Player, sub chan<- Event) error {
	if existing := l.player(p.ID); existing != nil {
		existing.IsConnected = true
		if sub != nil {
			l.subs[p.ID] = sub
		}
		l.touch()

		l.logger.Debug("player reconnected", "player", p.ID)

		l.send(p.ID, JoinSuccess{PlayerID: p.ID, Lobby: l.snapshot()})
		l.resume(p.ID)
		l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

		return nil
	}

	switch {
	case l.status != StatusWaiting:
		return l.invalid("game in lobby %s has already started", l.code)
	case l.locked:
		return l.invalid("lobby %s is locked", l.code)
	case p.Username == "":
		return l.invalid("a username is required")
	case l.settings.MaxPlayers > 0 && len(l.players) >= l.settings.MaxPlayers:
		return fmt.Errorf("%w: lobby %s is full (%d players)", ErrCapacityExceeded, l.code, l.settings.MaxPlayers)
	}

	for _, other := range l.players {
		if other.Username == p.Username {
			return l.invalid("username %q is already taken", p.Username)
		}
	}

	p.IsHost = false
	p.IsConnected = true
	p.JoinedAt = l.now()
	p.reset()

	l.players = append(l.players, &p)
	if sub != nil {
		l.subs[p.ID] = sub
	}
	l.touch()

	l.logger.Info("player joined", "player", p.ID, "username", p.Username)

	l.send(p.ID, JoinSuccess{PlayerID: p.ID, Lobby: l.snapshot()})
	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

	return nil
}

// resume brings a reconnecting player up to date with the running question.
func (l *Lobby) resume(playerID string) {
	switch {
	case l.phase == PhaseQuestionActive:
		l.send(playerID, l.questionStarted(l.questions[l.index], false))
	case l.phase == PhaseDuel && l.duelRoundOpen:
		l.send(playerID, l.questionStarted(l.duelQuestionAt(l.duelQuestion-1), true))
	}
}

func (l *Lobby) remove(playerID string) {
	l.players = slices.DeleteFunc(l.players, func(p *Player) bool { return p.ID == playerID })
	delete(l.subs, playerID)
	delete(l.answers, playerID)

	if playerID == l.hostID {
		l.hostID = ""
		if len(l.players) > 0 {
			l.players[0].IsHost = true
			l.hostID = l.players[0].ID
			l.logger.Info("host transferred", "host", l.hostID)
		}
	}

	if len(l.players) == 0 {
		l.clock.disarm()
		return
	}

	if l.status != StatusInProgress {
		return
	}

	switch l.phase {
	case PhaseQuestionActive:
		if l.allAnswered() {
			l.endQuestion()
		}
	case PhaseDuel:
		// Between rounds the pair holds at most the last winner, so a
		// forfeit only scores while a round is open.
		out, ok := l.duel.forfeit(playerID)
		if ok && l.duelRoundOpen {
			l.closeDuelRound(out)
		}
	}
}

func (l *Lobby) leave(playerID string) error {
	if l.player(playerID) == nil {
		return fmt.Errorf("%w: player %s is not in lobby %s", ErrNotFound, playerID, l.code)
	}

	l.remove(playerID)
	l.touch()

	l.logger.Info("player left", "player", playerID, "remaining", len(l.players))

	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

	return nil
}

func (l *Lobby) kick(playerID, target string) error {
	if err := l.requireHost(playerID, "kick players"); err != nil {
		return err
	}
	if target == playerID {
		return l.invalid("the host cannot kick themselves")
	}
	if l.player(target) == nil {
		return fmt.Errorf("%w: player %s is not in lobby %s", ErrNotFound, target, l.code)
	}

	l.send(target, Kicked{Message: "You have been removed by the host."})

	return l.leave(target)
}

func (l *Lobby) disconnect(playerID string, sub chan<- Event) error {
	p := l.player(playerID)
	if p == nil {
		return fmt.Errorf("%w: player %s is not in lobby %s", ErrNotFound, playerID, l.code)
	}

	// A newer connection has already taken over this player.
	if sub != nil && l.subs[playerID] != sub {
		return nil
	}

	l.markDisconnected(p)

	return nil
}

func (l *Lobby) markDisconnected(p *Player) {
	delete(l.subs, p.ID)
	if !p.IsConnected {
		return
	}
	p.IsConnected = false
	l.touch()

	l.logger.Info("player disconnected", "player", p.ID)

	if l.status == StatusInProgress {
		switch {
		case l.phase == PhaseQuestionActive && l.allAnswered():
			l.endQuestion()
		case l.phase == PhaseDuel && l.duelRoundOpen && l.duel.inPair(p.ID):
			if _, ok := l.duelAnswers[p.ID]; !ok {
				l.duelAnswers[p.ID] = duelAnswer{elapsed: l.settings.TimeLimit}
			}
			if len(l.duelAnswers) == 2 {
				l.resolveDuel()
			}
		}
	}

	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})
}

func (l *Lobby) setReady(playerID string, ready bool) error {
	p := l.player(playerID)
	if p == nil {
		return fmt.Errorf("%w: player %s is not in lobby %s", ErrNotFound, playerID, l.code)
	}
	if l.status != StatusWaiting {
		return l.invalid("readiness can only change while waiting")
	}

	p.IsReady = ready
	l.touch()

	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

	return nil
}

func (l *Lobby) updateSettings(playerID string, s Settings) error {
	if err := l.requireHost(playerID, "change settings"); err != nil {
		return err
	}
	if l.status != StatusWaiting {
		return l.invalid("settings are fixed once the game starts")
	}
	if !s.validate() {
		return l.invalid("settings out of range")
	}
	if s.MaxPlayers > 0 && s.MaxPlayers < len(l.players) {
		return fmt.Errorf("%w: lobby already has %d players", ErrCapacityExceeded, len(l.players))
	}

	l.settings = s
	l.touch()

	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

	return nil
}

func (l *Lobby) lock(playerID string, locked bool) error {
	if err := l.requireHost(playerID, "lock the lobby"); err != nil {
		return err
	}
	if l.status != StatusWaiting {
		return l.invalid("lobby can only be locked while waiting")
	}

	l.locked = locked
	l.touch()

	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

	return nil
}

func (l *Lobby) start(ctx context.Context, playerID string) error {
	if err := l.requireHost(playerID, "start the game"); err != nil {
		return err
	}
	if l.status != StatusWaiting {
		return l.invalid("lobby %s is %s", l.code, l.status)
	}
	if len(l.players) < 2 {
		return l.invalid("at least 2 players are required, have %d", len(l.players))
	}
	if l.settings.RequireReady {
		for _, p := range l.players {
			if !p.IsHost && !p.IsReady {
				return l.invalid("player %q is not ready", p.Username)
			}
		}
	}

	questions, err := l.questionRepo.Questions(ctx, l.setIDs)
	if err != nil {
		return fmt.Errorf("lobby %s: fetching questions: %w", l.code, err)
	}
	if len(questions) == 0 {
		return l.invalid("no questions available for sets %v", l.setIDs)
	}

	l.questions = slices.Clone(questions)
	l.status = StatusInProgress
	l.sessionID = uuid.NewString()
	l.index = 0
	l.duel = nil
	l.touch()

	l.logger.Info("game started", "session", l.sessionID, "players", len(l.players), "questions", len(l.questions))

	l.broadcast(GameStarted{
		SessionID:      l.sessionID,
		TotalQuestions: len(l.questions),
		Lobby:          l.snapshot(),
	})

	l.startQuestion()

	return nil
}

func (l *Lobby) questionStarted(q Question, duel bool) QuestionStarted {
	ev := QuestionStarted{
		Question:         q.Public(),
		Index:            l.index,
		Total:            len(l.questions),
		TimeLimitSeconds: int(l.settings.TimeLimit / time.Second),
		TimeRemainingMs:  l.clock.remaining(l.now()).Milliseconds(),
		Duel:             duel,
	}
	if duel {
		ev.Index = l.duel.Round - 1
		ev.Pair = slices.Clone(l.duel.Pair)
	}
	return ev
}

func (l *Lobby) startQuestion() {
	l.phase = PhaseQuestionActive
	l.answers = make(map[string]answerRecord, len(l.players))
	l.fastestAwarded = false
	l.questionStart = l.now()
	l.clock.arm(l.questionStart, l.settings.TimeLimit, l.tick, clockQuestion, l.post)

	l.broadcast(l.questionStarted(l.questions[l.index], false))
}

func (l *Lobby) elapsed() time.Duration {
	return min(max(l.now().Sub(l.questionStart), 0), l.settings.TimeLimit)
}

func (l *Lobby) submit(playerID string, answer int) error {
	p := l.player(playerID)
	if p == nil {
		return fmt.Errorf("%w: player %s is not in lobby %s", ErrNotFound, playerID, l.code)
	}

	switch {
	case l.phase == PhaseQuestionActive:
		return l.answerQuestion(p, answer)
	case l.phase == PhaseDuel && l.duelRoundOpen:
		return l.answerDuel(p, answer)
	}

	return l.invalid("no question is open")
}

func (l *Lobby) answerQuestion(p *Player, answer int) error {
	q := l.questions[l.index]

	if _, ok := l.answers[p.ID]; ok {
		return l.invalid("player %s already answered question %d", p.ID, l.index)
	}
	if answer < 0 || answer >= len(q.Options) {
		return l.invalid("answer %d out of range", answer)
	}

	first := !l.fastestAwarded && q.isCorrect(answer)
	ev := l.policy.Score(*p, q, answer, l.elapsed(), l.settings.TimeLimit, first)
	if ev.WasFastest {
		l.fastestAwarded = true
	}

	p.apply(ev)
	l.answers[p.ID] = answerRecord{answer: answer, event: ev}
	l.touch()

	l.broadcast(AnswerReceived{PlayerID: p.ID, HasAnswered: true, ElapsedMs: ev.Elapsed.Milliseconds()})
	if ev.WasFastest {
		l.broadcast(FastestFinger{PlayerID: p.ID})
	}

	if l.phase == PhaseQuestionActive && l.allAnswered() {
		l.endQuestion()
	}

	return nil
}

func (l *Lobby) allAnswered() bool {
	n := 0
	for _, p := range l.players {
		if !p.IsConnected {
			continue
		}
		if _, ok := l.answers[p.ID]; !ok {
			return false
		}
		n++
	}
	return n > 0
}

// endQuestion finalizes the open question. Anyone who has not answered is
// scored as a timeout.
func (l *Lobby) endQuestion() {
	if l.phase != PhaseQuestionActive {
		return
	}
	l.clock.disarm()

	q := l.questions[l.index]
	limit := l.settings.TimeLimit

	results := make([]PlayerResult, 0, len(l.players))
	for _, p := range l.players {
		rec, answered := l.answers[p.ID]
		if !answered {
			ev := l.policy.Score(*p, q, -1, limit, limit, false)
			p.apply(ev)
			rec = answerRecord{answer: -1, event: ev}
			l.answers[p.ID] = rec
		}

		results = append(results, PlayerResult{
			PlayerID:      p.ID,
			Answered:      answered,
			Answer:        rec.answer,
			Correct:       rec.event.Correct,
			ElapsedMs:     rec.event.Elapsed.Milliseconds(),
			AwardedPoints: rec.event.AwardedPoints,
			Score:         p.Score,
			Streak:        p.CurrentStreak,
			WasFastest:    rec.event.WasFastest,
		})
	}

	l.phase = PhaseQuestionEnded
	l.touch()

	l.broadcast(QuestionEnded{
		Results: results,
		Correct: slices.Clone(q.Correct),
		Index:   l.index,
		Total:   len(l.questions),
	})

	l.pause()
}

// pause holds the reveal for RevealDelay before moving on. Without a delay
// the move happens in settle, after the current intent unwinds.
func (l *Lobby) pause() {
	if l.settings.RevealDelay > 0 {
		l.clock.arm(l.now(), l.settings.RevealDelay, 0, clockReveal, l.post)
		return
	}
	l.proceedDue = true
}

func (l *Lobby) proceed() {
	l.proceedDue = false
	if l.status != StatusInProgress {
		return
	}

	switch l.phase {
	case PhaseQuestionEnded:
		l.advanceQuestion()
	case PhaseDuel:
		l.nextDuelRound()
	}
}

func (l *Lobby) advanceQuestion() {
	if l.index+1 < len(l.questions) {
		l.index++
		l.startQuestion()
		return
	}

	if l.settings.DuelMode && l.connectedCount() >= 2 {
		l.startDuel()
		return
	}

	l.end("completed")
}

func (l *Lobby) next(playerID string) error {
	if err := l.requireHost(playerID, "advance the game"); err != nil {
		return err
	}

	switch {
	case l.status == StatusInProgress && l.phase == PhaseQuestionEnded:
	case l.status == StatusInProgress && l.phase == PhaseDuel && !l.duelRoundOpen:
	default:
		return l.invalid("nothing to advance")
	}

	l.clock.disarm()
	l.touch()
	l.proceed()

	return nil
}

func (l *Lobby) startDuel() {
	l.phase = PhaseDuel
	l.duel = newDuel(l.connected(), l.settings.DuelMaxLosses)
	l.duelQuestion = 0

	l.logger.Info("duel phase started", "queue", len(l.duel.Queue))

	l.nextDuelRound()
}

func (l *Lobby) duelQuestionAt(i int) Question {
	return l.questions[i%len(l.questions)]
}

// contenders counts connected players still in the rotation. Below two, a
// pair of absent players could only tie forever.
func (l *Lobby) contenders() int {
	n := 0
	for _, p := range l.players {
		if p.IsConnected && (l.duel.inPair(p.ID) || slices.Contains(l.duel.Queue, p.ID)) {
			n++
		}
	}
	return n
}

func (l *Lobby) nextDuelRound() {
	if l.contenders() < 2 {
		l.end("duel complete")
		return
	}
	if l.settings.DuelMaxRounds > 0 && l.duel.Round >= l.settings.DuelMaxRounds {
		l.end("duel rounds exhausted")
		return
	}
	if !l.duel.advance() {
		l.end("duel complete")
		return
	}

	spectators := make([]string, 0, len(l.players))
	for _, p := range l.players {
		if !l.duel.inPair(p.ID) {
			spectators = append(spectators, p.ID)
		}
	}

	l.broadcast(DuelPaired{
		Round:      l.duel.Round,
		Pair:       slices.Clone(l.duel.Pair),
		Queue:      slices.Clone(l.duel.Queue),
		Spectators: spectators,
		Wins:       l.duel.clone().Wins,
	})

	q := l.duelQuestionAt(l.duelQuestion)
	l.duelQuestion++
	l.duelAnswers = make(map[string]duelAnswer, 2)
	l.duelRoundOpen = true
	l.questionStart = l.now()
	l.clock.arm(l.questionStart, l.settings.TimeLimit, l.tick, clockDuel, l.post)

	l.broadcast(l.questionStarted(q, true))

	// A paired player who is already gone forfeits the answer immediately.
	for _, id := range l.duel.Pair {
		if p := l.player(id); p != nil && !p.IsConnected {
			l.duelAnswers[id] = duelAnswer{elapsed: l.settings.TimeLimit}
		}
	}
	if len(l.duelAnswers) == 2 {
		l.resolveDuel()
	}
}

func (l *Lobby) answerDuel(p *Player, answer int) error {
	if !l.duel.inPair(p.ID) {
		return l.invalid("spectators cannot answer duel questions")
	}
	if _, ok := l.duelAnswers[p.ID]; ok {
		return l.invalid("player %s already answered this duel round", p.ID)
	}

	q := l.duelQuestionAt(l.duelQuestion - 1)
	if answer < 0 || answer >= len(q.Options) {
		return l.invalid("answer %d out of range", answer)
	}

	elapsed := l.elapsed()
	l.duelAnswers[p.ID] = duelAnswer{answered: true, correct: q.isCorrect(answer), elapsed: elapsed}
	l.touch()

	l.broadcast(AnswerReceived{PlayerID: p.ID, HasAnswered: true, ElapsedMs: elapsed.Milliseconds()})

	if len(l.duelAnswers) == 2 {
		l.resolveDuel()
	}

	return nil
}

func (l *Lobby) resolveDuel() {
	if !l.duelRoundOpen {
		return
	}
	limit := l.settings.TimeLimit
	for _, id := range l.duel.Pair {
		if _, ok := l.duelAnswers[id]; !ok {
			l.duelAnswers[id] = duelAnswer{elapsed: limit}
		}
	}

	out := l.duel.resolve(l.duelAnswers[l.duel.Pair[0]], l.duelAnswers[l.duel.Pair[1]])
	l.closeDuelRound(out)
}

func (l *Lobby) closeDuelRound(out DuelOutcome) {
	l.clock.disarm()
	l.duelRoundOpen = false
	l.touch()

	l.logger.Debug("duel round resolved", "round", l.duel.Round, "winner", out.Winner, "tie", out.Tie)

	d := l.duel.clone()
	l.broadcast(DuelResult{
		DuelOutcome: out,
		Round:       d.Round,
		Correct:     slices.Clone(l.duelQuestionAt(l.duelQuestion - 1).Correct),
		Pair:        d.Pair,
		Queue:       d.Queue,
		Wins:        d.Wins,
	})

	l.pause()
}

func (l *Lobby) onTick(gen uint64) {
	if gen != l.clock.gen || l.clock.stop == nil {
		return
	}

	remaining := l.clock.remaining(l.now())
	l.broadcast(TimeUpdate{
		TimeRemaining:   int((remaining + time.Second - 1) / time.Second),
		TimeRemainingMs: remaining.Milliseconds(),
	})
}

func (l *Lobby) onExpired(gen uint64, kind clockKind) {
	if gen != l.clock.gen || l.clock.stop == nil || l.status != StatusInProgress {
		return
	}
	l.clock.stop = nil

	switch kind {
	case clockQuestion:
		if l.phase == PhaseQuestionActive {
			l.logger.Debug("question timed out", "index", l.index)
			l.endQuestion()
		}
	case clockDuel:
		if l.phase == PhaseDuel && l.duelRoundOpen {
			l.resolveDuel()
		}
	case clockReveal:
		l.proceed()
	}
}

func (l *Lobby) abort(playerID string) error {
	if err := l.requireHost(playerID, "end the game"); err != nil {
		return err
	}
	if l.status == StatusEnded {
		return l.invalid("game already ended")
	}

	l.end("ended by host")

	return nil
}

func (l *Lobby) end(reason string) {
	l.clock.disarm()
	l.status = StatusEnded
	l.phase = PhaseNone
	l.duelRoundOpen = false
	l.proceedDue = false
	l.touch()

	l.logger.Info("game ended", "session", l.sessionID, "reason", reason)

	l.broadcast(GameEnded{
		SessionID: l.sessionID,
		Reason:    reason,
		Standings: l.standings(),
	})
}

func (l *Lobby) standings() []Standing {
	ordered := slices.Clone(l.players)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	out := make([]Standing, 0, len(ordered))
	for i, p := range ordered {
		s := Standing{
			Rank:           i + 1,
			PlayerID:       p.ID,
			Username:       p.Username,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
		}
		if l.duel != nil {
			s.DuelWins = l.duel.Wins[p.ID]
		}
		out = append(out, s)
	}

	return out
}

func (l *Lobby) replay(playerID string) error {
	if err := l.requireHost(playerID, "restart the game"); err != nil {
		return err
	}
	if l.status != StatusEnded {
		return l.invalid("game has not ended")
	}
	if !l.settings.AllowReplay {
		return l.invalid("replay is disabled for lobby %s", l.code)
	}

	for _, p := range l.players {
		p.reset()
	}
	l.status = StatusWaiting
	l.phase = PhaseNone
	l.index = -1
	l.questions = nil
	l.answers = nil
	l.duel = nil
	l.sessionID = ""
	l.touch()

	l.broadcast(LobbyUpdated{Lobby: l.snapshot()})

	return nil
}

func (l *Lobby) expired(now time.Time, waitingTTL, endedTTL time.Duration) bool {
	idle := now.Sub(l.lastActivity)

	switch {
	case len(l.players) == 0:
		return true
	case l.status == StatusWaiting && waitingTTL > 0:
		return idle > waitingTTL
	case l.status == StatusEnded && endedTTL > 0:
		return idle > endedTTL
	}

	return false
}

func (l *Lobby) send(playerID string, ev Event) {
	sub, ok := l.subs[playerID]
	if !ok {
		return
	}

	select {
	case sub <- ev:
	default:
		l.logger.Warn("dropping slow subscriber", "player", playerID)
		delete(l.subs, playerID)
		if l.player(playerID) != nil {
			l.dropped = append(l.dropped, playerID)
		}
	}
}

func (l *Lobby) broadcast(ev Event) {
	for _, p := range slices.Clone(l.players) {
		l.send(p.ID, ev)
	}
}

func (l *Lobby) snapshot() Snapshot {
	players := make([]Player, 0, len(l.players))
	for _, p := range l.players {
		players = append(players, *p)
	}

	return Snapshot{
		ID:                   l.id,
		Code:                 l.code,
		HostID:               l.hostID,
		Status:               l.status,
		Phase:                l.phase,
		Players:              players,
		QuestionSetIDs:       slices.Clone(l.setIDs),
		CurrentQuestionIndex: l.index,
		TotalQuestions:       len(l.questions),
		Settings:             l.settings,
		TimeLimitSeconds:     int(l.settings.TimeLimit / time.Second),
		Locked:               l.locked,
		SessionID:            l.sessionID,
		Duel:                 l.duel.clone(),
		CreatedAt:            l.createdAt,
		LastActivityAt:       l.lastActivity,
	}
}

// Snapshot returns a consistent copy of the lobby.
func (l *Lobby) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := l.do(ctx, snapshotIntent{})
	return res.snap, err
}

func (l *Lobby) SetReady(ctx context.Context, playerID string, ready bool) error {
	_, err := l.do(ctx, readyIntent{playerID: playerID, ready: ready})
	return err
}

func (l *Lobby) Start(ctx context.Context, playerID string) error {
	_, err := l.do(ctx, startIntent{playerID: playerID})
	return err
}

func (l *Lobby) SubmitAnswer(ctx context.Context, playerID string, answer int) error {
	_, err := l.do(ctx, answerIntent{playerID: playerID, answer: answer})
	return err
}

// NextQuestion skips the remainder of the reveal pause.
func (l *Lobby) NextQuestion(ctx context.Context, playerID string) error {
	_, err := l.do(ctx, nextIntent{playerID: playerID})
	return err
}

func (l *Lobby) End(ctx context.Context, playerID string) error {
	_, err := l.do(ctx, endIntent{playerID: playerID})
	return err
}

func (l *Lobby) PlayAgain(ctx context.Context, playerID string) error {
	_, err := l.do(ctx, replayIntent{playerID: playerID})
	return err
}

func (l *Lobby) UpdateSettings(ctx context.Context, playerID string, s Settings) error {
	_, err := l.do(ctx, settingsIntent{playerID: playerID, settings: s})
	return err
}

func (l *Lobby) Lock(ctx context.Context, playerID string, locked bool) error {
	_, err := l.do(ctx, lockIntent{playerID: playerID, locked: locked})
	return err
}
