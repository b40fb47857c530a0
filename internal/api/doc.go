// Package api provides the REST quote source.
//
// Quote and candle endpoints follow the Finnhub shape:
//   - GET /quote?symbol=AAPL                      -> {c, h, l, o, pc, t}
//   - GET /stock/candle?symbol=&resolution=&from=&to= -> {s, t[], o[], h[], l[], c[], v[]}
//
// Extended-hours and index quotes come from the Yahoo chart endpoint:
//   - GET /v8/finance/chart/{symbol}?interval=1m&range=1d&includePrePost=true
//
// Concurrent identical requests share one in-flight call.
package api
