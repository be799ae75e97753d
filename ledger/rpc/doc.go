// Package rpc exposes a ledger over WebSocket and provides the matching
// client. Frames are MessagePack-encoded binary messages; every request
// carries an ID and its response echoes it as CorrelID.
//
// Serving a ledger:
//
//	srv := rpc.NewServer(memLedger, rpc.WithToken("secret"))
//	http.Handle("/ledger", srv)
//
// Connecting a worker:
//
//	c, err := rpc.Dial(ctx, "ws://localhost:8899/ledger",
//	    rpc.WithClientToken("secret"),
//	    rpc.WithReconnect(backoff.DefaultStrategy(), 0),
//	)
//	defer c.Close()
//
// The client implements ledger.Client, ledger.Scanner and ledger.Notifier,
// so it plugs into the engine wherever the in-memory ledger does.
package rpc
