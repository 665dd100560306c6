package stakingEvents

import (
	"math/big"
)

type EventKind string

const (
	EventKind_Stake   EventKind = "Stake"
	EventKind_Unstake EventKind = "Unstake"
	EventKind_Harvest EventKind = "Harvest"
)

var AllEventKinds = []EventKind{EventKind_Stake, EventKind_Unstake, EventKind_Harvest}

// StakingEvent is implemented only by StakeEvent, UnstakeEvent and HarvestEvent.
type StakingEvent interface {
	Kind() EventKind
	Meta() *EventMeta
	isStakingEvent()
}

// EventMeta locates an event on chain. Pool and addresses are lowercase hex.
type EventMeta struct {
	Pool        string
	TxId        string
	BlockNumber uint64
	LogIndex    uint
}

func (m *EventMeta) Meta() *EventMeta {
	return m
}

type StakeEvent struct {
	EventMeta
	Wallet string
	Amount *big.Int
}

func (e *StakeEvent) Kind() EventKind {
	return EventKind_Stake
}

func (e *StakeEvent) isStakingEvent() {}

type UnstakeEvent struct {
	EventMeta
	Wallet string
	Amount *big.Int
}

func (e *UnstakeEvent) Kind() EventKind {
	return EventKind_Unstake
}

func (e *UnstakeEvent) isStakingEvent() {}

type HarvestEvent struct {
	EventMeta
	Wallet       string
	AmountToken1 *big.Int
	AmountToken2 *big.Int
}

func (e *HarvestEvent) Kind() EventKind {
	return EventKind_Harvest
}

func (e *HarvestEvent) isStakingEvent() {}
