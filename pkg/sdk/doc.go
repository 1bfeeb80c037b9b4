// Package askdex is a Go client for the askdex HTTP API.
//
// Sources are ingested asynchronously and answered over with citations.
// Ask and Chat return a Stream of server-sent events.
//
//	client, _ := askdex.New("http://localhost:8080", askdex.WithAPIKey(key))
//	src, _ := client.Sources().Ingest(ctx, askdex.IngestRequest{Title: "Guide", Text: text})
//
//	stream, _ := client.Ask(ctx, askdex.AskRequest{
//	    Question: "Compare A and B",
//	    Items:    []askdex.ContextItem{{ID: src.SourceID, Level: askdex.LevelFull}},
//	})
//	defer stream.Close()
//	for stream.Next() {
//	    ev := stream.Event()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Chat sessions keep their history on the server:
//
//	stream, _ := client.Chat("session-1").Send(ctx, askdex.ChatRequest{Message: "And B?"})
//	final, err := stream.Final()
package askdex
