// Package trivia runs multiplayer trivia sessions.
//
// How a game goes:
// - The host creates a lobby and shares its six-character code
// - Players join with the code, pick a username and a character, and mark themselves ready
// - The host starts the game; every player sees the same question with the same countdown
// - Answers score more the faster they come in, and streaks of correct answers raise a multiplier
// - The first correct answer to each question earns a fastest-finger bonus
// - When the questions run out, duel mode pairs players off head to head; the winner keeps their seat
// - Final standings are broadcast and the lobby lingers until the sweeper reclaims it
//
// Implementation details:
// - Each lobby is a single goroutine consuming one ordered queue of intents
// - Session clock callbacks are intents too, tagged with a generation so stale timers are ignored
// - The registry is constructed and passed around; there is no package-level state
package trivia
