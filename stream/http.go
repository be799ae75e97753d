package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/xraph/crank/id"
)

// Handler streams events as newline-delimited JSON. Topics are taken
// from repeated "topic" query parameters and default to the firehose.
// The stream ends when the client disconnects or the broker shuts down.
func (b *Broker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		subID := id.NewSubscriberID().String()
		sub, err := b.Subscribe(subID, r.URL.Query()["topic"]...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer b.RemoveSubscriber(subID)

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		b.logger.Debug("stream subscriber connected",
			slog.String("subscriber", subID),
			slog.Any("topics", sub.Topics()),
		)

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				if err := enc.Encode(evt); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
