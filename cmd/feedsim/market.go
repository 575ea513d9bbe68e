package main

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rickgao/coin-tracker/internal/api"
)

// seedCoins is the simulated universe with starting prices.
var seedCoins = []api.Coin{
	{Code: "BTC", Name: "Bitcoin", Price: decimal.RequireFromString("64250.12")},
	{Code: "ETH", Name: "Ethereum", Price: decimal.RequireFromString("3105.40")},
	{Code: "SOL", Name: "Solana", Price: decimal.RequireFromString("148.73")},
	{Code: "ADA", Name: "Cardano", Price: decimal.RequireFromString("0.4521")},
	{Code: "XRP", Name: "XRP", Price: decimal.RequireFromString("0.5187")},
	{Code: "DOGE", Name: "Dogecoin", Price: decimal.RequireFromString("0.123456")},
	{Code: "SHIB", Name: "Shiba Inu", Price: decimal.RequireFromString("0.00001734")},
}

// market holds simulated prices that move by a bounded random walk.
type market struct {
	mu    sync.Mutex
	coins []api.Coin
	rng   *rand.Rand
	step  float64 // Max relative move per tick
}

func newMarket(iconBase string, seed uint64, step float64) *market {
	coins := make([]api.Coin, len(seedCoins))
	copy(coins, seedCoins)
	for i := range coins {
		if iconBase != "" {
			coins[i].ImageURL = fmt.Sprintf("%s/icons/%s.png", iconBase, coins[i].Code)
		}
	}
	return &market{
		coins: coins,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		step:  step,
	}
}

// Snapshot returns every coin.
func (m *market) Snapshot() []api.Coin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.Coin(nil), m.coins...)
}

// Tick moves one random coin and returns it.
func (m *market) Tick() api.Coin {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.rng.IntN(len(m.coins))
	c := &m.coins[i]

	move := (m.rng.Float64()*2 - 1) * m.step
	next := c.Price.Mul(decimal.NewFromFloat(1 + move))

	// Keep eight significant fraction digits for sub-cent coins.
	places := int32(2)
	if next.LessThan(decimal.NewFromInt(1)) {
		places = 8
	}
	next = next.Round(places)
	if next.IsPositive() {
		c.Price = next
	}
	return *c
}
