package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ReferralRewardStatus string

const (
	ReferralRewardStatus_Pending     ReferralRewardStatus = "pending"
	ReferralRewardStatus_Distributed ReferralRewardStatus = "distributed"
)

// StakeReward is the one-time reward paid to both a staker and their referrer on the staker's first stake.
type StakeReward struct {
	Id              uint64 `gorm:"primaryKey;autoIncrement"`
	StakerAddress   string
	ReferrerAddress string
	TokenAddress    string
	StakedAmount    string
	RewardAmount    string
	StakingTxId     string
	RewardTxId      *string
	CreatedAt       time.Time
}

func (StakeReward) TableName() string {
	return "stake_rewards"
}

// ReferralReward is a harvest commission owed to one referrer at one level of the lineage.
type ReferralReward struct {
	Id              uint64 `gorm:"primaryKey;autoIncrement"`
	ReferrerAddress string
	TokenAddresses  StringList
	Amounts         StringList
	HarvestTxId     string
	Level           int
	Status          ReferralRewardStatus
	RewardTxId      *string
	CreatedAt       time.Time
	DistributedAt   *time.Time
}

func (ReferralReward) TableName() string {
	return "referral_rewards"
}

type SettlementRunStatus string

const (
	// SettlementRunStatus_Broadcast marks a signed batch that may be on chain but whose records
	// are not yet closed out.
	SettlementRunStatus_Broadcast SettlementRunStatus = "broadcast"
	SettlementRunStatus_Recorded  SettlementRunStatus = "recorded"
	SettlementRunStatus_Abandoned SettlementRunStatus = "abandoned"
)

// SettlementRun is written before a batch is broadcast so a run that dies between broadcast and
// close-out can be finished by the next one.
type SettlementRun struct {
	Id        uint64 `gorm:"primaryKey;autoIncrement"`
	RunId     string
	Kind      string
	TxHash    string
	RawTx     string
	RecordIds IdList
	Status    SettlementRunStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SettlementRun) TableName() string {
	return "settlement_runs"
}

// IdList is a list of record ids persisted as a JSON array.
type IdList []uint64

func (s IdList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]uint64(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *IdList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = IdList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for IdList", value)
	}
	var out []uint64
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// StringList is an ordered list of strings persisted as a JSON array.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = out
	return nil
}
