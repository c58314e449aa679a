package models

// BetResults is the read-only projection of a completed bet
type BetResults struct {
	Bet               *Bet         `json:"bet"`
	WinningOption     *BetOption   `json:"winningOption"`
	Winners           []int64      `json:"winners"`
	WinnersCount      int          `json:"winnersCount"`
	TotalPool         int64        `json:"totalPool"`
	WinningsPerPerson int64        `json:"winningsPerPerson"`
	RoundingRemainder int64        `json:"roundingRemainder"`
	Payouts           []*BetPayout `json:"payouts"`
}

// OptionStats holds the participant share of one option
type OptionStats struct {
	OptionID     int64  `json:"optionId"`
	OptionText   string `json:"text"`
	Participants int    `json:"participants"`
	Percentage   int    `json:"percentage"`
}

// BetStats aggregates participation per option for any bet status
type BetStats struct {
	BetID             int64          `json:"betId"`
	Status            BetStatus      `json:"status"`
	TotalParticipants int            `json:"totalParticipants"`
	TotalPool         int64          `json:"totalPool"`
	Options           []*OptionStats `json:"options"`
}
