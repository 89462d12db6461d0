// Package model defines the account records shared across the league engine.
// All monetary values are int64 fixed point (see package fixedpoint), never
// float64.
package model

// MaxBps is 100% expressed in basis points.
const MaxBps = 10_000

// Program limits carried over from the on-chain account layout.
const (
	MaxMarketsPerLeague   = 10
	MaxLeagueIDLen        = 32
	MaxMetadataURILen     = 200
	MaxSymbolLen          = 16
	MaxLeaderboardK       = 20
	MaxOpenPositions      = 10
	MaxMarketDecimals     = 12
	MaxOracleExponentSpan = 18
)

// GlobalConfig is the process-wide singleton created by Initialize.
type GlobalConfig struct {
	Admin    string `json:"admin"`
	FeeBps   uint16 `json:"fee_bps"` // e.g. 1000 = 10%
	Treasury string `json:"treasury"`
}

// Market holds per-symbol trading parameters. Its identity (symbol + feed)
// is fixed at creation.
type Market struct {
	Symbol      string `json:"symbol"`     // e.g. "SOL/USDC"
	PriceFeed   string `json:"price_feed"` // oracle feed reference
	Decimals    uint8  `json:"decimals"`   // base asset size precision, e.g. 6 for SOL
	Enabled     bool   `json:"enabled"`
	MaxLeverage uint8  `json:"max_leverage"`
	ListedBy    string `json:"listed_by"`
	CreatedAt   int64  `json:"created_at"`
}

// LeagueStatus is monotonic: Pending → Active → Ended.
type LeagueStatus string

const (
	LeaguePending LeagueStatus = "pending"
	LeagueActive  LeagueStatus = "active"
	LeagueEnded   LeagueStatus = "ended"
)

// League is one time-boxed competition instance.
type League struct {
	ID          string       `json:"id"`
	Creator     string       `json:"creator"`
	Status      LeagueStatus `json:"status"`
	Markets     []string     `json:"markets"` // market account keys
	Leaderboard string       `json:"leaderboard"`

	EntryTokenMint   string `json:"entry_token_mint"`
	EntryAmount      int64  `json:"entry_amount"`
	RewardVault      string `json:"reward_vault"`
	TotalEscrowed    int64  `json:"total_escrowed"`
	TotalReward      int64  `json:"total_reward"` // fixed at close
	ProtocolFee      int64  `json:"protocol_fee"` // paid to treasury at close
	PrizePool        int64  `json:"prize_pool"`
	VirtualOnDeposit int64  `json:"virtual_on_deposit"` // paper micro-dollars

	MetadataURI      string `json:"metadata_uri"`
	StartTS          int64  `json:"start_ts"`
	EndTS            int64  `json:"end_ts"`
	MaxParticipants  uint32 `json:"max_participants"`
	ParticipantCount uint32 `json:"participant_count"`
	MaxLeverage      uint8  `json:"max_leverage"`
	FeeBps           uint16 `json:"fee_bps"` // snapshot of GlobalConfig.FeeBps
}

// HasMarket reports whether the market key is allowed in this league.
func (l *League) HasMarket(market string) bool {
	for _, m := range l.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// Participant is a user's ledger inside one league.
type Participant struct {
	League  string `json:"league"`
	User    string `json:"user"`
	Claimed bool   `json:"claimed"`

	VirtualBalance int64 `json:"virtual_balance"`
	UnrealizedPnL  int64 `json:"unrealized_pnl"`
	UsedMargin     int64 `json:"used_margin"`
	TotalVolume    int64 `json:"total_volume"`

	CurrentPositionSeq uint64   `json:"current_position_seq"` // highest sequence opened
	OpenPositions      []uint64 `json:"open_positions"`
}

// Equity is virtual balance minus used margin plus unrealized PnL.
func (p *Participant) Equity() int64 {
	return p.VirtualBalance - p.UsedMargin + p.UnrealizedPnL
}

// AvailableMargin is what a new position may still lock.
func (p *Participant) AvailableMargin() int64 {
	return p.VirtualBalance - p.UsedMargin
}

// IsOpen reports whether seq is one of the participant's open positions.
func (p *Participant) IsOpen(seq uint64) bool {
	for _, s := range p.OpenPositions {
		if s == seq {
			return true
		}
	}
	return false
}

// RemoveOpen drops seq from the open set.
func (p *Participant) RemoveOpen(seq uint64) {
	out := p.OpenPositions[:0]
	for _, s := range p.OpenPositions {
		if s != seq {
			out = append(out, s)
		}
	}
	p.OpenPositions = out
}

// Direction of a position; the value doubles as the PnL sign.
type Direction int8

const (
	Long  Direction = 1
	Short Direction = -1
)

// Valid reports whether d is Long or Short.
func (d Direction) Valid() bool { return d == Long || d == Short }

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	}
	return "unknown"
}

// PositionState is derived from the timestamps, never stored.
type PositionState string

const (
	PositionUnopened PositionState = "unopened"
	PositionOpened   PositionState = "opened"
	PositionClosed   PositionState = "closed"
)

// Position is one leveraged exposure, sequenced per (league, user).
type Position struct {
	League         string `json:"league"`
	User           string `json:"user"`
	Market         string `json:"market"`
	MarketDecimals uint8  `json:"market_decimals"`
	PriceFeed      string `json:"price_feed"`
	Seq            uint64 `json:"seq"`

	Direction  Direction `json:"direction"`
	EntryPrice int64     `json:"entry_price"` // micro-dollars
	EntrySize  int64     `json:"entry_size"`  // base units (market decimals)
	Leverage   uint8     `json:"leverage"`

	Size          int64 `json:"size"`
	Notional      int64 `json:"notional"`
	Margin        int64 `json:"margin"`
	UnrealizedPnL int64 `json:"unrealized_pnl"`
	OpenedAt      int64 `json:"opened_at"`
	ClosedAt      int64 `json:"closed_at"`

	ClosedSize   int64 `json:"closed_size"`
	ClosedPrice  int64 `json:"closed_price"`
	ClosedEquity int64 `json:"closed_equity"`
	ClosedPnL    int64 `json:"closed_pnl"`
}

// State derives the lifecycle stage.
func (p *Position) State() PositionState {
	switch {
	case p.ClosedAt > 0:
		return PositionClosed
	case p.OpenedAt > 0:
		return PositionOpened
	default:
		return PositionUnopened
	}
}

// Leaderboard keeps two bounded rankings. Slices with the same prefix are
// parallel: index i of each describes the same participant.
type Leaderboard struct {
	League string `json:"league"`
	K      uint16 `json:"k"`

	TopKEquity        []string `json:"topk_equity"`
	TopKEquityScores  []int64  `json:"topk_equity_scores"`
	TopKEquityVolumes []int64  `json:"topk_equity_volumes"`

	TopKVolume       []string `json:"topk_volume"`
	TopKVolumeScores []int64  `json:"topk_volume_scores"`

	LastUpdated int64 `json:"last_updated"`
}

// EquityRank returns the 1-based rank of participant, or 0 if absent.
func (lb *Leaderboard) EquityRank(participant string) int {
	for i, p := range lb.TopKEquity {
		if p == participant {
			return i + 1
		}
	}
	return 0
}
