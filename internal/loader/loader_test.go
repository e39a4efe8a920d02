package loader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bronweg/couponvault/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("parses denominations ascending", func(t *testing.T) {
		input := `{
			"10": ["11111111111111111111", "22222222222222222222"],
			"5": ["33333333333333333333"],
			"2.5": ["44444444444444444444"]
		}`

		coupons, err := Parse(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, coupons, 4)

		assert.Equal(t, []model.NewCoupon{
			{ID: "44444444444444444444", Denomination: 2.5},
			{ID: "33333333333333333333", Denomination: 5},
			{ID: "11111111111111111111", Denomination: 10},
			{ID: "22222222222222222222", Denomination: 10},
		}, coupons)
	})

	t.Run("empty file yields no coupons", func(t *testing.T) {
		coupons, err := Parse(strings.NewReader(`{}`))
		require.NoError(t, err)
		assert.Empty(t, coupons)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`{"5": [`))
		assert.Error(t, err)
	})

	t.Run("rejects non-numeric denomination", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`{"five": ["11111111111111111111"]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid denomination")
	})

	t.Run("rejects non-positive denomination", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`{"0": ["11111111111111111111"]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")

		_, err = Parse(strings.NewReader(`{"-5": ["11111111111111111111"]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")
	})

	t.Run("rejects short coupon id", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`{"5": ["123"]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "20 digits")
	})

	t.Run("rejects non-numeric coupon id", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`{"5": ["1234567890123456789X"]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be numeric")
	})

	t.Run("rejects duplicate coupon ids across denominations", func(t *testing.T) {
		input := `{
			"5": ["11111111111111111111"],
			"10": ["11111111111111111111"]
		}`

		_, err := Parse(strings.NewReader(input))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate coupon id")
	})
}

func TestFileSource(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("fetches an existing file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "coupons.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"5": ["11111111111111111111"]}`), 0644))

		source := NewFileSource(logger)
		body, err := source.Fetch(ctx, path)
		require.NoError(t, err)
		defer body.Close()

		data, err := io.ReadAll(body)
		require.NoError(t, err)

		coupons, err := Parse(strings.NewReader(string(data)))
		require.NoError(t, err)
		assert.Len(t, coupons, 1)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		source := NewFileSource(logger)
		_, err := source.Fetch(ctx, filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}
