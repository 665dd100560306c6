package numbers

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Numbers(t *testing.T) {
	t.Run("Should parse integer amounts beyond uint64", func(t *testing.T) {
		v, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
		require.Nil(t, err)
		assert.Equal(t, 256, v.BitLen())
	})
	t.Run("Should reject fractional and negative amounts", func(t *testing.T) {
		_, err := ParseAmount("1.5")
		assert.NotNil(t, err)
		_, err = ParseAmount("-1")
		assert.NotNil(t, err)
		_, err = ParseAmount("abc")
		assert.NotNil(t, err)
	})
	t.Run("Should floor when dividing", func(t *testing.T) {
		assert.Equal(t, "12", MulDivFloor(big.NewInt(500), 25, 1000).String())
		assert.Equal(t, "7", MulDivFloor(big.NewInt(500), 15, 1000).String())
		assert.Equal(t, "0", MulDivFloor(big.NewInt(9), 10, 100).String())
	})
	t.Run("Should add and compare numeric strings", func(t *testing.T) {
		sum, err := NumericAdd("100", "200")
		require.Nil(t, err)
		assert.Equal(t, "300", sum)

		product, err := NumericMultiply(sum, "2")
		require.Nil(t, err)
		assert.Equal(t, "600", product)

		gt, err := BigGreaterThan("600", "500")
		require.Nil(t, err)
		assert.True(t, gt)
	})
}
