// Package duelrelay is a relay server for real-time card duels. It accepts
// two to four players plus observers per room, speaks the classic binary
// duel protocol over raw TCP and WebSocket, and drives each room through
// the full match lifecycle: lobby, deck submission, rock-paper-scissors,
// turn-order choice, dueling, siding, and teardown.
//
// # Architecture
//
// Every decoded client message and every room lifecycle event flows through
// one ordered middleware bus. Features such as version gating, welcome
// notices, and tag-surrender confirmation register handlers on the bus;
// the room state machine is installed as each message kind's terminal
// action and never knows which features run ahead of it.
//
// Embedders extend the server the same way: Server.Dispatcher exposes the
// bus, and the handler signature, event kinds, and lifecycle events are all
// exported from this package (Handler, Kind, WinEvent, and friends).
//
// # Protocol Format
//
// Messages are length-prefixed binary frames:
//
//	[2 bytes: length (uint16, little-endian)][1 byte: opcode][N bytes: body]
//
// The length covers the opcode byte plus the body. Frames may arrive
// arbitrarily chunked; the decoder reassembles them and survives unknown
// opcodes and oversized frames without losing stream sync.
//
// # Quick Start
//
//	cfg, err := duelrelay.LoadConfig()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("config")
//	}
//	srv, err := duelrelay.New(cfg, log)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("setup")
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal().Err(err).Msg("start")
//	}
//	defer srv.Stop(ctx)
//
// Configuration comes from the environment; see Config for the full
// surface. With no environment set the server listens for WebSocket
// clients on :7922.
//
// # Rooms
//
// Clients choose a room by the pass they join with. Options are encoded in
// the name itself: "M#weekly" is a best-of-three match, "T,NC#casual" a
// tag duel without deck checking. The first occupant becomes host and
// starts the match once every seat has submitted a legal deck.
package duelrelay
