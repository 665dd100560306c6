package contractAbi

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ContractAbi(t *testing.T) {
	treasury := common.HexToAddress("0x1111111111111111111111111111111111111111")
	staker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")

	t.Run("Should expose topics for every staking event", func(t *testing.T) {
		for _, name := range []string{Event_Stake, Event_Unstake, Event_Harvest} {
			topic, err := EventTopic(name)
			require.Nil(t, err)
			assert.NotEqual(t, common.Hash{}, topic)
		}
		_, err := EventTopic("Deposit")
		assert.NotNil(t, err)
	})
	t.Run("Should pack tryAggregate with nested transferFrom calls", func(t *testing.T) {
		transfer, err := PackTransferFrom(treasury, staker, big.NewInt(100))
		require.Nil(t, err)

		data, err := PackTryAggregate(false, []MulticallCall{{Target: token, CallData: transfer}})
		require.Nil(t, err)

		requireSuccess, calls, err := UnpackTryAggregateInput(data)
		require.Nil(t, err)
		assert.False(t, requireSuccess)
		require.Len(t, calls, 1)
		assert.Equal(t, token, calls[0].Target)

		from, to, amount, err := UnpackTransferFromInput(calls[0].CallData)
		require.Nil(t, err)
		assert.Equal(t, treasury, from)
		assert.Equal(t, staker, to)
		assert.Equal(t, "100", amount.String())
	})
}
