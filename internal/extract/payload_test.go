package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	t.Run("objects arrays and scalars", func(t *testing.T) {
		root, err := parsePayload([]byte(`{"a":[{"price":1629},{"b":"x"}],"c":2.5}`))
		require.NoError(t, err)
		assert.Equal(t, kindObject, root.kind)
		assert.Equal(t, kindArray, root.object["a"].kind)
		assert.Equal(t, kindNumber, root.object["c"].kind)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := parsePayload([]byte(`{broken`))
		assert.Error(t, err)
	})
}

func TestFindKey(t *testing.T) {
	t.Run("finds nested scalar", func(t *testing.T) {
		root, err := parsePayload([]byte(`{"outer":{"inner":{"price":1629}}}`))
		require.NoError(t, err)

		found, ok := findKey(root, "price", 0)
		require.True(t, ok)
		assert.Equal(t, float64(1629), found.num)
	})

	t.Run("searches inside arrays", func(t *testing.T) {
		root, err := parsePayload([]byte(`{"items":[{"x":1},{"price":"999"}]}`))
		require.NoError(t, err)

		found, ok := findKey(root, "price", 0)
		require.True(t, ok)
		assert.Equal(t, "999", found.str)
	})

	t.Run("non-scalar values under the key do not match directly", func(t *testing.T) {
		root, err := parsePayload([]byte(`{"price":{"amount":1629}}`))
		require.NoError(t, err)

		_, ok := findKey(root, "price", 0)
		assert.False(t, ok)
	})

	t.Run("depth bound cuts off deep trees", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i <= maxPayloadDepth+2; i++ {
			fmt.Fprintf(&b, `{"level%d":`, i)
		}
		b.WriteString(`{"price":1629}`)
		for i := 0; i <= maxPayloadDepth+2; i++ {
			b.WriteString("}")
		}

		root, err := parsePayload([]byte(b.String()))
		require.NoError(t, err)

		_, ok := findKey(root, "price", 0)
		assert.False(t, ok)
	})
}

func TestNormalizeScalar(t *testing.T) {
	tests := []struct {
		name string
		json string
		want int64
		ok   bool
	}{
		{"whole currency number", `{"v":1629}`, 162900, true},
		{"fractional number rounds", `{"v":1629.99}`, 162999, true},
		{"above threshold passes through", `{"v":2500000}`, 2500000, true},
		{"digit string", `{"v":"1629"}`, 162900, true},
		{"formatted string", `{"v":"1 629 ₽"}`, 162900, true},
		{"string without digits", `{"v":"договорная"}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := parsePayload([]byte(tt.json))
			require.NoError(t, err)

			got, ok := normalizeScalar(root.object["v"])
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "1629", digitsOnly("1 629 ₽"))
	assert.Equal(t, "200000", digitsOnly("2 00 000"))
	assert.Equal(t, "", digitsOnly("нет цены"))
}
