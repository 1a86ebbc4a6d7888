// Package fetch provides the resilient HTTP client used by market-data
// collectors.
//
// Each upstream feed gets its own client bound to a resource name in the
// resilience manager, so breaker accounting is per feed. The client stacks
// a rate limiter and a retrying transport under resty; hard failures and
// non-2xx responses count against the feed's circuit breaker.
//
// Example Usage:
//
//	client := fetch.NewClient(manager, fetch.Config{
//		Resource: "yahoo-quotes",
//		BaseURL:  "https://query1.finance.yahoo.com",
//	})
//	body, err := client.Get(ctx, "/v8/finance/chart/AAPL")
package fetch
