// Package connection implements the streaming transport.
//
// A Transport owns one WebSocket connection per feed and multiplexes many
// per-symbol subscriptions over it:
//   - Reference-counted wire subscriptions (subscribe on first, unsubscribe on last)
//   - Reconnection with exponential backoff, bounded by a maximum attempt count
//   - Failure callbacks once attempts are exhausted, until Init is called again
//   - Replay of every registered symbol after each successful connect
//
// Two wire protocols are provided: TradeProtocol for the JSON equity trade
// feed and IndexProtocol for the base64 protobuf index/FX feed.
package connection
