// Package mcp exposes read-only relayer operations as Model Context Protocol tools.
//
// The server registers four tools backed by a relayer service:
//
//   - quote_fee: price a sponsored transfer and return the message the sender must sign
//   - transaction_status: chain status of a submitted transaction
//   - safety_stats: configured caps and today's usage
//   - relayer_health: sponsor balance against its reserve
//
// Submission stays on the HTTP API because it needs a wallet signature.
//
//	server := mcp.NewServer(service, mcp.WithLogger(logger))
//	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
//	    log.Fatal(err)
//	}
package mcp
