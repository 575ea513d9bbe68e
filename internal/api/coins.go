package api

import (
	"context"
	"fmt"
)

// GetAllCoins fetches the full coin snapshot. Entries failing validation are
// logged and dropped so one bad coin does not void the fetch.
func (c *Client) GetAllCoins(ctx context.Context) ([]Coin, error) {
	var resp CoinsResponse
	if err := c.get(ctx, "/coins", nil, &resp); err != nil {
		return nil, fmt.Errorf("get all coins: %w", err)
	}

	coins := resp.Coins[:0]
	for _, coin := range resp.Coins {
		if err := coin.Validate(); err != nil {
			c.logger.Warn("dropping invalid coin", "code", coin.Code, "error", err)
			continue
		}
		coins = append(coins, coin)
	}
	return coins, nil
}
