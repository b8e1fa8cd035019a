// Package regsearch is a small client for the regsearch HTTP API.
//
// It submits a question to a running regsearch server and delivers the
// ordered event stream (steps, sub-queries, sources, answer chunks) to a
// caller-supplied handler:
//
//	client := regsearch.New("http://localhost:8080",
//		regsearch.WithAPIKey(os.Getenv("REGSEARCH_API_KEY")))
//
//	err := client.Search(ctx, "What labeling rules apply to medical devices?",
//		func(e regsearch.Event) error {
//			if e.Type == regsearch.EventAnswerChunk {
//				fmt.Print(e.Text)
//			}
//			return nil
//		})
//
// For callers that only need the ranked passages, Sources runs a
// retrieval-only search and returns them directly.
package regsearch
