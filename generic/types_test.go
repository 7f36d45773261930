package generic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustParseMoney(t *testing.T) {
	assert.True(t, MustParseMoney("-1500.50").Equal(NewMoney(-1500).Add(MustParseMoney("-0.5"))))
	assert.Panics(t, func() { MustParseMoney("12,5") })
	assert.Panics(t, func() { MustParseMoney("") })
}

func TestMoney_JSONKeepsPrecision(t *testing.T) {
	b, err := json.Marshal(MustParseMoney("4000.10"))
	require.NoError(t, err)
	assert.JSONEq(t, `"4000.1"`, string(b))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`4500.5`), &m))
	assert.True(t, MustParseMoney("4500.50").Equal(m))
}
