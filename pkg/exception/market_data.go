package exception

import "errors"

var (
	ErrMarketDataInvalidQuote = errors.New("market data: invalid bid/ask")
	ErrMarketDataFeedClosed   = errors.New("market data: feed closed")
)
