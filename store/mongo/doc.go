// Package mongo implements store.Store on MongoDB using the official Go
// driver. Attempts live in the crank_attempts collection; creation times
// are kept in microseconds because BSON dates only carry milliseconds.
//
// New wraps a *mongo.Database the caller owns. Open connects from a URI
// and disconnects on Close.
package mongo
