// Package room implements the duel room state machine and its registry.
// A room groups two or four connections into player slots plus any number
// of observers and drives them through the duel lifecycle: lobby, deck
// submission, first-turn resolution, dueling, siding, and teardown.
//
// All mutable room state is guarded by one mutex per room, so two events
// for the same room arriving concurrently from different connections are
// serialized. Lifecycle events are collected under the lock and dispatched
// after it is released, so bus handlers may call back into the room.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/moecube/duelrelay/internal/conn"
	"github.com/moecube/duelrelay/internal/deck"
	"github.com/moecube/duelrelay/internal/dispatch"
	"github.com/moecube/duelrelay/internal/proto"
)

// Deps are the collaborators a room needs.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Reader     deck.CardReader
	LFList     deck.LFList
	Limits     deck.Limits
	Logger     zerolog.Logger
}

// Finalizer is a teardown callback. Finalizers run in reverse registration
// order, one after another, exactly once per room.
type Finalizer func(r *Room) error

// Room is one duel table.
type Room struct {
	name string
	info proto.HostInfo
	deps Deps
	log  zerolog.Logger

	mu         sync.Mutex
	players    []*conn.Conn
	watchers   []*conn.Conn
	stage      Stage
	records    []*DuelRecord
	swapped    bool
	firstGo    *conn.Conn
	hands      map[int]uint8
	finalizing bool
	finalizers []Finalizer
}

// New builds a room whose configuration is parsed from its name. The slot
// count is fixed at creation: four seats in tag mode, two otherwise.
func New(name string, deps Deps) *Room {
	info := ParseHostInfo(name)
	slots := 2
	if info.Mode == ModeTag {
		slots = 4
	}
	return &Room{
		name:    name,
		info:    info,
		deps:    deps,
		log:     deps.Logger.With().Str("room", name).Logger(),
		players: make([]*conn.Conn, slots),
		stage:   StageBegin,
		hands:   make(map[int]uint8),
	}
}

// Name returns the room's unique key.
func (r *Room) Name() string { return r.name }

// Info returns the room configuration.
func (r *Room) Info() proto.HostInfo { return r.info }

// IsTag reports whether the room plays two-versus-two.
func (r *Room) IsTag() bool { return r.info.Mode == ModeTag }

// WinThreshold is the score that ends the match. The bit unpacking of Mode
// is an external protocol contract; do not simplify it.
func (r *Room) WinThreshold() int {
	firstBit := int(r.info.Mode & 0x1)
	remaining := int(r.info.Mode&0xFC) >> 1
	return (firstBit | remaining) + 1
}

// CurrentStage returns the room's lifecycle stage.
func (r *Room) CurrentStage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Finalizing reports whether teardown has started.
func (r *Room) Finalizing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalizing
}

func (r *Room) teamBit() int {
	if r.IsTag() {
		return 1
	}
	return 0
}

// DuelPos maps a seat index to its logical team (0 or 1), or -1 for
// observers. In tag mode the team bit is bit 1 of the seat, so seats
// {0,1} and {2,3} form the two teams; the partition never changes with
// reseating.
func (r *Room) DuelPos(pos int) int {
	if pos >= PosObserver || pos < 0 {
		return -1
	}
	bit := r.teamBit()
	return (pos >> bit) & 1
}

// PosSwapped reports whether this game's coin toss inverted which physical
// team is duel position 0.
func (r *Room) PosSwapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swapped
}

func (r *Room) swappedPosLocked(pos int) int {
	if pos >= PosObserver || pos < 0 || !r.swapped {
		return pos
	}
	return pos ^ (1 << r.teamBit())
}

func (r *Room) swappedDuelPosLocked(duelPos int) int {
	if r.swapped && (duelPos == 0 || duelPos == 1) {
		return 1 - duelPos
	}
	return duelPos
}

func (r *Room) seatedLocked() []*conn.Conn {
	var out []*conn.Conn
	for _, p := range r.players {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) occupantsLocked() []*conn.Conn {
	out := r.seatedLocked()
	return append(out, r.watchers...)
}

// Seated returns the occupied seats in slot order.
func (r *Room) Seated() []*conn.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatedLocked()
}

// WatcherCount returns the observer count.
func (r *Room) WatcherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Score tallies decided games per duel position.
func (r *Room) Score() [2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scoreLocked()
}

func (r *Room) scoreLocked() [2]int {
	var score [2]int
	for _, rec := range r.records {
		if rec.decided && (rec.WinPos == 0 || rec.WinPos == 1) {
			score[rec.WinPos]++
		}
	}
	return score
}

// Teammate returns c's tag partner, or nil when there is none.
func (r *Room) Teammate(c *conn.Conn) *conn.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.IsTag() {
		return nil
	}
	dp := r.DuelPos(c.Pos)
	if dp < 0 {
		return nil
	}
	for _, p := range r.seatedLocked() {
		if p != c && r.DuelPos(p.Pos) == dp {
			return p
		}
	}
	return nil
}

func (r *Room) firstOfDuelPosLocked(duelPos int) *conn.Conn {
	for _, p := range r.seatedLocked() {
		if r.DuelPos(p.Pos) == duelPos {
			return p
		}
	}
	return nil
}

func (r *Room) broadcastLocked(msg proto.Marshaler) {
	for _, p := range r.occupantsLocked() {
		p.Send(msg)
	}
}

func (r *Room) watcherSizeMessageLocked() *proto.HsWatchChange {
	return &proto.HsWatchChange{Count: uint16(len(r.watchers))}
}

// SendChatAll delivers a localized system notice to every occupant.
func (r *Room) SendChatAll(msg string, color uint16) {
	r.mu.Lock()
	occupants := r.occupantsLocked()
	r.mu.Unlock()
	for _, p := range occupants {
		p.SendChat(msg, color)
	}
}

// firing is an event collected under the lock, dispatched after it.
type firing struct {
	ev dispatch.Event
	c  *conn.Conn
}

func (r *Room) fire(ctx context.Context, evs []firing) {
	for _, f := range evs {
		if err := r.deps.Dispatcher.Dispatch(ctx, f.ev, f.c); err != nil {
			r.log.Warn().Err(err).
				Str("event", string(f.ev.EventKind())).
				Msg("room event handler failed")
		}
	}
}

// AddFinalizer registers a teardown callback. Later registrations run
// earlier (LIFO).
func (r *Room) AddFinalizer(fn Finalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizers = append(r.finalizers, fn)
}

// Finalize makes the room inert and runs the registered finalizers in
// reverse registration order, each awaited before the next. Idempotent:
// a second call finds nothing to do.
func (r *Room) Finalize(ctx context.Context) {
	r.mu.Lock()
	if r.finalizing {
		r.mu.Unlock()
		return
	}
	r.finalizing = true
	r.stage = StageEnd
	fns := r.finalizers
	r.finalizers = nil
	r.mu.Unlock()

	r.fire(ctx, []firing{{FinalizeEvent{Room: r}, nil}})

	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](r); err != nil {
			r.log.Warn().Err(err).Msg("room finalizer failed")
		}
	}
}

// Join seats c in the first empty slot, or adds it to the observers when
// the table is full. The first occupant becomes host. The joiner gets a
// full room snapshot; existing occupants are told about the arrival.
func (r *Room) Join(ctx context.Context, c *conn.Conn) {
	r.mu.Lock()
	if r.finalizing {
		r.mu.Unlock()
		c.Die("#{room_closed}", proto.ChatColorRed)
		return
	}

	c.RoomName = r.name
	c.IsHost = len(r.occupantsLocked()) == 0

	slot := -1
	for i, p := range r.players {
		if p == nil {
			slot = i
			break
		}
	}
	isPlayer := slot >= 0
	if isPlayer {
		r.players[slot] = c
		c.Pos = slot
	} else {
		r.watchers = append(r.watchers, c)
		c.Pos = PosObserver
	}

	// Snapshot for the joiner.
	c.Send(&proto.JoinGameTo{Info: r.info})
	c.Send(proto.TypeChangeOf(c.Pos, c.IsHost))
	for _, p := range r.seatedLocked() {
		if p == c {
			continue
		}
		c.Send(&proto.HsPlayerEnter{Name: p.Name, Pos: uint8(p.Pos)})
		if p.Deck != nil {
			c.Send(proto.PlayerChangeOf(p.Pos, proto.PlayerChangeReady))
		}
	}
	if len(r.watchers) > 0 {
		c.Send(r.watcherSizeMessageLocked())
	}

	// Announcement for everyone else.
	for _, p := range r.occupantsLocked() {
		if p == c {
			continue
		}
		if isPlayer {
			p.Send(&proto.HsPlayerEnter{Name: c.Name, Pos: uint8(c.Pos)})
		} else {
			p.Send(r.watcherSizeMessageLocked())
		}
	}
	r.mu.Unlock()

	evs := []firing{{JoinEvent{Room: r}, c}}
	if isPlayer {
		evs = append(evs, firing{JoinPlayerEvent{Room: r}, c})
	} else {
		evs = append(evs, firing{JoinObserverEvent{Room: r}, c})
	}
	r.fire(ctx, evs)
}

// handleDisconnect routes a dropped occupant. Observers only shrink the
// broadcast count; a seated player vacates the slot pre-duel, and counts
// as a forced match loss once dueling has started.
func (r *Room) handleDisconnect(ctx context.Context, c *conn.Conn) {
	r.mu.Lock()
	if r.stage == StageEnd || r.finalizing {
		r.mu.Unlock()
		return
	}

	wasObserver := c.Pos == PosObserver
	oldPos := c.Pos
	var evs []firing
	matchOver := false

	switch {
	case wasObserver:
		for i, w := range r.watchers {
			if w == c {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		r.broadcastLocked(r.watcherSizeMessageLocked())
	case r.stage == StageBegin:
		r.players[oldPos] = nil
		r.broadcastLocked(proto.PlayerChangeOf(oldPos, proto.PlayerChangeLeave))
	default:
		// Forced loss: the opposing duel position wins the match outright.
		r.players[oldPos] = nil
		winner := 1 - r.DuelPos(oldPos)
		var winEvs []firing
		winEvs, matchOver = r.winLocked(winner, 0x4, true)
		evs = append(evs, winEvs...)
	}

	if c.IsHost {
		c.IsHost = false
		for _, p := range r.occupantsLocked() {
			if p != c {
				p.IsHost = true
				p.Send(proto.TypeChangeOf(p.Pos, true))
				break
			}
		}
	}

	c.RoomName = ""
	r.mu.Unlock()

	evs = append(evs, firing{LeaveEvent{Room: r}, c})
	if wasObserver {
		evs = append(evs, firing{LeaveObserverEvent{Room: r}, c})
	} else {
		evs = append(evs, firing{LeavePlayerEvent{Room: r, OldPos: oldPos}, c})
	}
	r.fire(ctx, evs)

	if matchOver {
		r.teardown(ctx)
	}
}

// handleToObserver moves a seated player to the observer set. Lobby only.
func (r *Room) handleToObserver(ctx context.Context, c *conn.Conn) {
	r.mu.Lock()
	if r.stage != StageBegin || c.Pos == PosObserver {
		r.mu.Unlock()
		return
	}

	oldPos := c.Pos
	r.broadcastLocked(proto.PlayerChangeOf(oldPos, proto.PlayerChangeObserve))
	r.players[oldPos] = nil
	c.Pos = PosObserver
	c.Deck = nil
	c.StartDeck = nil
	r.watchers = append(r.watchers, c)
	c.Send(proto.TypeChangeOf(c.Pos, c.IsHost))
	r.broadcastLocked(r.watcherSizeMessageLocked())
	r.mu.Unlock()

	r.fire(ctx, []firing{
		{LeavePlayerEvent{Room: r, OldPos: oldPos}, c},
		{JoinObserverEvent{Room: r}, c},
	})
}

// handleToDuelist promotes an observer into the first empty slot, or, in
// tag mode, reseats an unready player into the next empty slot.
func (r *Room) handleToDuelist(ctx context.Context, c *conn.Conn) {
	r.mu.Lock()
	if r.stage != StageBegin {
		r.mu.Unlock()
		return
	}

	slot := -1
	for i, p := range r.players {
		if p == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		r.mu.Unlock()
		return
	}

	var evs []firing
	switch {
	case c.Pos == PosObserver:
		for i, w := range r.watchers {
			if w == c {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		r.players[slot] = c
		c.Pos = slot
		r.broadcastLocked(&proto.HsPlayerEnter{Name: c.Name, Pos: uint8(c.Pos)})
		c.Send(proto.TypeChangeOf(c.Pos, c.IsHost))
		r.broadcastLocked(r.watcherSizeMessageLocked())
		evs = []firing{
			{LeaveObserverEvent{Room: r}, c},
			{JoinPlayerEvent{Room: r}, c},
		}
	case r.IsTag():
		// A seated tag player may shift seats until a deck is submitted.
		if c.Deck != nil {
			r.mu.Unlock()
			return
		}
		oldPos := c.Pos
		next := (oldPos + 1) % len(r.players)
		for r.players[next] != nil {
			next = (next + 1) % len(r.players)
		}
		r.players[oldPos] = nil
		r.players[next] = c
		c.Pos = next
		r.broadcastLocked(proto.PlayerChangeOf(oldPos, uint8(next)))
		c.Send(proto.TypeChangeOf(c.Pos, c.IsHost))
		evs = []firing{
			{LeavePlayerEvent{Room: r, OldPos: oldPos}, c},
			{JoinPlayerEvent{Room: r}, c},
		}
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.fire(ctx, evs)
}

// handleKick lets the host remove another seated player in the lobby.
func (r *Room) handleKick(_ context.Context, c *conn.Conn, pos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != StageBegin || !c.IsHost || pos == c.Pos {
		return
	}
	if pos < 0 || pos >= len(r.players) {
		return
	}
	target := r.players[pos]
	if target == nil {
		return
	}
	r.kickLocked(target, false)
}

// kickLocked sends accumulated replays, closes out the duel view where
// appropriate, and drops the connection. The disconnect event that follows
// performs the actual seat bookkeeping.
func (r *Room) kickLocked(c *conn.Conn, sendDuelEnd bool) {
	r.sendReplaysLocked(c)
	if sendDuelEnd && r.stage != StageBegin &&
		// A seated player who never finished siding has no duel to end.
		!(r.stage == StageSiding && c.Deck == nil && c.Pos < PosObserver) {
		c.Send(&proto.DuelEnd{})
	}
	c.Disconnect()
}

func (r *Room) sendReplaysLocked(c *conn.Conn) {
	for i, rec := range r.records {
		c.SendChat(fmt.Sprintf("#{replay_hint_part1}%d#{replay_hint_part2}", i+1), proto.ChatColorBabyBlue)
		c.Send(&proto.Replay{Data: rec.Encode()})
	}
}

// handleUpdateDeck accepts a deck submission in the lobby, or a re-side
// between games. Failures are reported with the standardized error message
// and never advance state.
func (r *Room) handleUpdateDeck(ctx context.Context, c *conn.Conn, msg *proto.UpdateDeck) {
	r.mu.Lock()
	if c.Pos == PosObserver ||
		(r.stage == StageSiding && c.Deck != nil) ||
		(r.stage != StageBegin && r.stage != StageSiding) {
		r.mu.Unlock()
		return
	}

	d := deck.Split(msg.Main, msg.Side, r.deps.Reader)

	if !r.info.NoCheckDeck {
		switch r.stage {
		case StageBegin:
			if err := deck.Check(d, r.deps.Limits, r.deps.LFList); err != nil {
				c.Send(&proto.ErrorMsg{Msg: proto.ErrMsgDeckError, Code: err.Code})
				r.mu.Unlock()
				return
			}
		case StageSiding:
			if c.StartDeck == nil {
				r.mu.Unlock()
				return
			}
			if !deck.CanReside(c.StartDeck, d) {
				c.Send(&proto.ErrorMsg{Msg: proto.ErrMsgSideError})
				r.mu.Unlock()
				return
			}
		}
	}

	c.Deck = d

	var evs []firing
	if r.stage == StageBegin {
		c.StartDeck = d
		r.broadcastLocked(proto.PlayerChangeOf(c.Pos, proto.PlayerChangeReady))
	} else {
		c.Send(&proto.DuelStart{})
		allReady := true
		for _, p := range r.seatedLocked() {
			if p.Deck == nil {
				allReady = false
				break
			}
		}
		if allReady {
			// Next game: the previous loser assigns turn order.
			firstgo := -1
			if last := r.lastRecordLocked(); last != nil && last.decided {
				firstgo = 1 - last.WinPos
			}
			evs = r.startGameLocked(firstgo)
		}
	}
	r.mu.Unlock()
	r.fire(ctx, evs)
}

// handleNotReady clears a lobby deck submission.
func (r *Room) handleNotReady(_ context.Context, c *conn.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != StageBegin || c.Pos == PosObserver {
		return
	}
	c.Deck = nil
	c.StartDeck = nil
	r.broadcastLocked(proto.PlayerChangeOf(c.Pos, proto.PlayerChangeNotReady))
}

// handleReady re-announces readiness; a deck must already be submitted.
func (r *Room) handleReady(_ context.Context, c *conn.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != StageBegin || c.Pos == PosObserver || c.Deck == nil {
		return
	}
	r.broadcastLocked(proto.PlayerChangeOf(c.Pos, proto.PlayerChangeReady))
}

// handleStart begins the match: host only, lobby only, all seats filled
// and ready.
func (r *Room) handleStart(ctx context.Context, c *conn.Conn) {
	r.mu.Lock()
	if r.stage != StageBegin || !c.IsHost {
		r.mu.Unlock()
		return
	}
	for _, p := range r.players {
		if p == nil || p.Deck == nil {
			r.mu.Unlock()
			return
		}
	}
	evs := r.startGameLocked(-1)
	r.mu.Unlock()
	r.fire(ctx, evs)
}

func (r *Room) lastRecordLocked() *DuelRecord {
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

// startGameLocked begins the next game. firstgo is the duel position that
// assigns turn order, or -1 for a coin toss (Finger).
func (r *Room) startGameLocked(firstgo int) []firing {
	if r.stage != StageBegin && r.stage != StageSiding {
		return nil
	}

	firstGame := len(r.records) == 0
	if firstGame {
		r.broadcastLocked(&proto.DuelStart{})
		r.sendDeckCountsLocked()
	}

	if firstgo == 0 || firstgo == 1 {
		r.toFirstGoLocked(firstgo)
	} else {
		r.toFingerLocked()
	}

	var evs []firing
	first := r.firstOfDuelPosLocked(0)
	if firstGame {
		evs = append(evs, firing{MatchStartEvent{Room: r}, first})
	}
	evs = append(evs, firing{GameStartEvent{Room: r}, first})
	return evs
}

func (r *Room) sendDeckCountsLocked() {
	counts := [2]proto.DeckCountInfo{}
	for dp := 0; dp < 2; dp++ {
		p := r.firstOfDuelPosLocked(dp)
		if p == nil || p.Deck == nil {
			return
		}
		counts[dp] = proto.DeckCountInfo{
			Main:  uint16(len(p.Deck.Main)),
			Extra: uint16(len(p.Deck.Extra)),
			Side:  uint16(len(p.Deck.Side)),
		}
	}
	for _, p := range r.seatedLocked() {
		self := r.DuelPos(p.Pos)
		p.Send(&proto.DeckCount{Player0: counts[self], Player1: counts[1-self]})
	}
	for _, w := range r.watchers {
		w.Send(&proto.DeckCount{Player0: counts[0], Player1: counts[1]})
	}
}

func (r *Room) toFingerLocked() {
	r.stage = StageFinger
	r.hands = make(map[int]uint8)
	for dp := 0; dp < 2; dp++ {
		if p := r.firstOfDuelPosLocked(dp); p != nil {
			p.Send(&proto.SelectHand{})
		}
	}
}

func (r *Room) toFirstGoLocked(duelPos int) {
	r.stage = StageFirstGo
	r.firstGo = r.firstOfDuelPosLocked(duelPos)
	if r.firstGo != nil {
		r.firstGo.Send(&proto.SelectTp{})
	}
}

// handleHandResult resolves the Finger coin toss. Equal picks replay.
func (r *Room) handleHandResult(_ context.Context, c *conn.Conn, res uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != StageFinger || c.Pos == PosObserver {
		return
	}
	if res < HandScissors || res > HandPaper {
		return
	}
	dp := r.DuelPos(c.Pos)
	if r.firstOfDuelPosLocked(dp) != c {
		return
	}
	if _, dup := r.hands[dp]; dup {
		return
	}
	r.hands[dp] = res
	a, okA := r.hands[0]
	b, okB := r.hands[1]
	if !okA || !okB {
		return
	}
	if a == b {
		r.toFingerLocked()
		return
	}
	winner := 1
	if handBeats(a, b) {
		winner = 0
	}
	r.toFirstGoLocked(winner)
}

// handleTpResult settles turn order from the assigned chooser and enters
// Dueling. The per-game position swap derives from whether the chooser's
// team takes the first turn.
func (r *Room) handleTpResult(ctx context.Context, c *conn.Conn, res uint8) {
	r.mu.Lock()
	if r.stage != StageFirstGo || c != r.firstGo {
		r.mu.Unlock()
		return
	}

	r.swapped = (res == proto.TpResultFirst) != (r.DuelPos(c.Pos) == 0)

	seats := make([]SeatRecord, 0, len(r.players))
	ordered := append([]*conn.Conn(nil), r.seatedLocked()...)
	// Record seats so that this game's duel position 0 comes first.
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			di := r.swappedDuelPosLocked(r.DuelPos(ordered[i].Pos))
			dj := r.swappedDuelPosLocked(r.DuelPos(ordered[j].Pos))
			if dj < di || (dj == di && ordered[j].Pos < ordered[i].Pos) {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	for _, p := range ordered {
		seats = append(seats, SeatRecord{Name: p.Name, Deck: p.Deck})
	}
	r.records = append(r.records, newDuelRecord(seats))
	r.stage = StageDueling
	first := r.firstOfDuelPosLocked(r.swappedDuelPosLocked(0))
	r.mu.Unlock()

	r.fire(ctx, []firing{{DuelStartEvent{Room: r}, first}})
}

// handleSurrender concedes the current game to the opposing team.
func (r *Room) handleSurrender(ctx context.Context, c *conn.Conn) {
	r.mu.Lock()
	if r.stage != StageDueling || c.Pos == PosObserver {
		r.mu.Unlock()
		return
	}
	evs, matchOver := r.winLocked(1-r.DuelPos(c.Pos), 0x0, false)
	r.mu.Unlock()
	r.fire(ctx, evs)
	if matchOver {
		r.teardown(ctx)
	}
}

// handleChat relays a chat line stamped with the sender's displayed seat.
func (r *Room) handleChat(_ context.Context, c *conn.Conn, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(&proto.ChatToClient{
		Player: uint16(r.swappedPosLocked(c.Pos)),
		Msg:    msg,
	})
}

// Win records the outcome of the current game for the logical duel
// position winner and either moves the match to Siding or, when the score
// reaches the threshold (or forceMatchEnd is set), tears the room down.
func (r *Room) Win(ctx context.Context, winner int, reason uint8, forceMatchEnd bool) {
	r.mu.Lock()
	evs, matchOver := r.winLocked(winner, reason, forceMatchEnd)
	r.mu.Unlock()
	r.fire(ctx, evs)
	if matchOver {
		r.teardown(ctx)
	}
}

func (r *Room) winLocked(winner int, reason uint8, forceMatchEnd bool) ([]firing, bool) {
	if r.stage == StageBegin || r.stage == StageEnd || r.finalizing {
		return nil, false
	}
	if winner != 0 && winner != 1 {
		return nil, false
	}

	if r.stage == StageSiding {
		for _, p := range r.seatedLocked() {
			if p.Deck == nil {
				p.Send(&proto.DuelStart{})
			}
		}
	}

	// The wire shows the physical team; records keep the logical one.
	display := r.swappedDuelPosLocked(winner)
	r.swapped = false
	r.broadcastLocked(&proto.GameMsg{Data: proto.WinBody(uint8(display), reason)})

	if last := r.lastRecordLocked(); last != nil && !last.decided {
		last.setWinner(winner)
	}

	matchOver := forceMatchEnd || r.scoreLocked()[winner] >= r.WinThreshold()
	if !matchOver {
		r.changeSideLocked()
	}

	evs := []firing{{
		WinEvent{Room: r, Winner: winner, Reason: reason, MatchOver: matchOver},
		r.firstOfDuelPosLocked(winner),
	}}
	return evs, matchOver
}

func (r *Room) changeSideLocked() {
	if r.stage == StageSiding {
		return
	}
	r.stage = StageSiding
	for _, p := range r.seatedLocked() {
		p.Deck = nil
		p.Send(&proto.ChangeSide{})
	}
	for _, w := range r.watchers {
		w.Send(&proto.WaitingSide{})
	}
}

// RelayGameMessage fans one card-engine message out to every occupant and
// publishes it on the bus for features that inspect engine traffic.
func (r *Room) RelayGameMessage(ctx context.Context, data []byte) {
	r.mu.Lock()
	r.broadcastLocked(&proto.GameMsg{Data: data})
	r.mu.Unlock()
	r.fire(ctx, []firing{{GameMsgEvent{Room: r, Data: data}, nil}})
}

// teardown ends the match for every occupant and finalizes the room.
func (r *Room) teardown(ctx context.Context) {
	r.cleanPlayers(true)
	r.Finalize(ctx)
}

// cleanPlayers kicks every occupant and empties the membership structures.
// It doubles as the room's own finalizer, so registry-driven teardown also
// drops every connection.
func (r *Room) cleanPlayers(sendDuelEnd bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.occupantsLocked() {
		r.kickLocked(p, sendDuelEnd)
	}
	for i := range r.players {
		r.players[i] = nil
	}
	r.watchers = nil
}
